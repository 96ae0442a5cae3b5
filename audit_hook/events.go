package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionSessionStarted     = "session.started"
	ActionSessionResumed     = "session.resumed"
	ActionSessionCompleted   = "session.completed"
	ActionSessionFailed      = "session.failed"
	ActionSessionInterrupted = "session.interrupted"
	ActionStepCompleted      = "step.completed"
	ActionStepFailed         = "step.failed"
	ActionStepRetrying       = "step.retrying"
	ActionUnitCompleted      = "unit.completed"
	ActionUnitFailed         = "unit.failed"
	ActionUnitDLQ            = "unit.dlq"
)

// Audit event categories group related actions.
const (
	CategorySession = "conductor.session"
	CategoryUnit    = "conductor.unit"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceSession  = "session"
	ResourceUnit     = "unit"
	ResourceDLQEntry = "dlq_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionSessionStarted,
		ActionSessionResumed,
		ActionSessionCompleted,
		ActionSessionFailed,
		ActionSessionInterrupted,
		ActionStepCompleted,
		ActionStepFailed,
		ActionStepRetrying,
		ActionUnitCompleted,
		ActionUnitFailed,
		ActionUnitDLQ,
	}
}
