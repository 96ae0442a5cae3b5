package redis

// Redis key naming conventions for conductor data.
// All keys are prefixed with "conductor:" to avoid collisions.

const keyPrefix = "conductor:"

// ── Session keys ──

// sessionKey returns the key for a session checkpoint: conductor:session:{id}
func sessionKey(id string) string { return keyPrefix + "session:" + id }

// sessionIndexKey is the Sorted Set of session IDs scored by update time.
const sessionIndexKey = keyPrefix + "sessions"

// ── Job keys ──

// jobKey returns the key for a MapReduce job: conductor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIndexKey is the Sorted Set of job IDs scored by update time.
const jobIndexKey = keyPrefix + "jobs"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: conductor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"
