package scheduler

import "errors"

var (
	ErrSpecBuild            = errors.New("fire spec build failed")
	ErrDuplicateJob         = errors.New("job already registered")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	ErrUnknownJob           = errors.New("unknown job")
)
