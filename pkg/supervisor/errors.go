package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrProcessLaunch  = errors.New("process launch failed")
	ErrProcessCrashed = errors.New("process crashed")
)

// LaunchError names the service that could not be started.
type LaunchError struct {
	Service string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrProcessLaunch, e.Service, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrProcessLaunch, e.Err} }

// CrashError reports a service that exited without being asked to stop.
type CrashError struct {
	Service    string
	ExitStatus int
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("%s: %s exited with status %d", ErrProcessCrashed, e.Service, e.ExitStatus)
}

func (e *CrashError) Unwrap() error { return ErrProcessCrashed }
