package dispatcher

import "errors"

var (
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrNilExecutor              = errors.New("executor cannot be nil")
	ErrNilMember                = errors.New("queue member cannot be nil")
	ErrExecutorPanic            = errors.New("executor panicked")
)
