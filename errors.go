package conductor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conductor: no store configured")
	ErrStoreClosed     = errors.New("conductor: store closed")
	ErrMigrationFailed = errors.New("conductor: migration failed")

	// Not found errors.
	ErrSessionNotFound = errors.New("conductor: session not found")
	ErrJobNotFound     = errors.New("conductor: job not found")
	ErrDLQNotFound     = errors.New("conductor: dlq entry not found")

	// Checkpoint errors.
	ErrCorruptCheckpoint = errors.New("conductor: corrupt checkpoint")

	// Session lifecycle errors.
	ErrInvalidTransition = errors.New("conductor: invalid session transition")
	ErrSessionCompleted  = errors.New("conductor: session already completed")
	ErrNotResumable      = errors.New("conductor: session not resumable")
	ErrWorkflowChanged   = errors.New("conductor: workflow changed since checkpoint")

	// Definition errors.
	ErrInvalidWorkflow = errors.New("conductor: invalid workflow")
	ErrInvalidPolicy   = errors.New("conductor: invalid retry policy")

	// Worktree pool errors.
	ErrPoolClosed = errors.New("conductor: worktree pool closed")
)
