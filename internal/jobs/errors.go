package jobs

import "errors"

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrEmptyBatch         = errors.New("at least one company name is required")
	ErrBatchTooLarge      = errors.New("batch exceeds the maximum size")
	ErrTooManyActiveJobs  = errors.New("too many active jobs for tenant")
	ErrQueueUnavailable   = errors.New("job queue unavailable")
	ErrNotCancellable     = errors.New("job is not cancellable")
	ErrJobActive          = errors.New("job is still active")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPagination  = errors.New("invalid pagination")
	ErrInvalidStatusQuery = errors.New("invalid status filter")
)

const (
	msgQueueUnavailable = "job queue unavailable"
	msgSoftTimeLimit    = "Time limit exceeded. Partial results are saved. Re-launch the job with the remaining companies to continue."
	msgStaleJob         = "Auto-reset: job exceeded maximum runtime without completing"
	maxJobErrorRunes    = 1000
)
