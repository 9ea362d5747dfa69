package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobAlreadyQueued is returned when an equivalent job is pending or running
	ErrJobAlreadyQueued = errors.New("an equivalent job is already queued")

	// ErrInvalidJob is returned for jobs missing their class or period
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
