// Package file implements store.Store on the local filesystem. It is the
// default backend of the conductor CLI.
//
// Layout under the state directory:
//
//	sessions/<session-id>.json
//	jobs/<job-id>.json
//	dlq/<entry-id>.json
//
// Every write goes to a temporary file in the target directory, is synced,
// and then renamed over the previous record. A crash at any point leaves
// either the old record or the new one.
package file
