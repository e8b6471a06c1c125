package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNilAction = errors.New("job action is nil")
	ErrJobPanic  = errors.New("job panicked")
)

// panicError carries the recovered value of a panicking job.
type panicError struct {
	value any
	stack string
}

func (e panicError) Error() string { return fmt.Sprintf("%v: %v", ErrJobPanic, e.value) }
func (e panicError) Unwrap() error { return ErrJobPanic }

// IsPanic reports whether err came from a recovered job panic.
func IsPanic(err error) bool { return errors.Is(err, ErrJobPanic) }
