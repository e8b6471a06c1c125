package scheduler

import "errors"

var ErrNilQueue = errors.New("scheduler: queue is nil")
