package dispatcher

import "errors"

var ErrNilQueue = errors.New("dispatcher: queue is nil")
