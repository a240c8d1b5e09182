package cache

import "strings"

const (
	taskIDPrefix      = "task-id:"
	retryCountPrefix  = "retry-count:"
	accessGraphPrefix = "access-graph:"
	lockPrefix        = "lock:"
)

// TaskIDKey holds the queue job id currently running a privacy request or a request task.
func TaskIDKey(entityID string) string {
	return taskIDPrefix + entityID
}

// RetryCountKey counts how often a privacy request was requeued after an interruption.
func RetryCountKey(privacyRequestID string) string {
	return retryCountPrefix + privacyRequestID
}

// AccessGraphKey holds the traversal representation a request's access tasks were built from.
func AccessGraphKey(privacyRequestID string) string {
	return accessGraphPrefix + privacyRequestID
}

// LockKey names the lock guarding one periodic sweep.
func LockKey(name string) string {
	return lockPrefix + name
}

// isCoordinationKey reports whether key tracks jobs, retries or locks rather than cached data.
func isCoordinationKey(key string) bool {
	return strings.HasPrefix(key, taskIDPrefix) ||
		strings.HasPrefix(key, retryCountPrefix) ||
		strings.HasPrefix(key, lockPrefix)
}
