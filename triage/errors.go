package triage

import "errors"

var (
	// ErrMalformedJob is returned for queue entries missing the object identity
	ErrMalformedJob = errors.New("malformed triage job")

	// ErrQueueEmpty is returned when no job arrived before the dequeue timeout
	ErrQueueEmpty = errors.New("triage queue is empty")

	// ErrBreakerOpen is returned while the queue is considered unavailable
	ErrBreakerOpen = errors.New("triage queue circuit breaker is open")

	// ErrDispatcherNotRunning is returned when submitting to a stopped dispatcher
	ErrDispatcherNotRunning = errors.New("triage dispatcher is not running")

	// ErrBacklogFull is returned when the in-process backlog cannot take more jobs
	ErrBacklogFull = errors.New("triage backlog is full")
)
