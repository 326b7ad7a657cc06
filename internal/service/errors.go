package service

import "fmt"

// BuildError is fatal to the whole run: no job ever executes without a
// published artifact.
type BuildError struct {
	Err error
}

func (be BuildError) Error() string {
	return fmt.Sprintf("build failed: %v", be.Err)
}

func (be BuildError) Unwrap() error {
	return be.Err
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

// ReportingError marks a failed coverage upload. Coverage visibility is a
// hard requirement, so this always escalates to a failed run.
type ReportingError struct {
	JobName string
	Err     error
}

func (re ReportingError) Error() string {
	return fmt.Sprintf("err reporting coverage for job '%s': %v", re.JobName, re.Err)
}

func (re ReportingError) Unwrap() error {
	return re.Err
}
