package out

import "time"

// JobRecorder receives job and retention measurements.
type JobRecorder interface {
	JobFinished(kind, trigger, status string, duration time.Duration, size int64)
	JobRejected(reason string)
	RetentionDeleted(count int)
	RetentionFailed()
}
