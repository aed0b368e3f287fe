package runner

import "errors"

var (
	// ErrProcessorFault паника или неожиданная ошибка шага, ловится на границе процессора.
	ErrProcessorFault = errors.New("processor fault")
	ErrNotStarted     = errors.New("processor not started")
	ErrStopped        = errors.New("processor stopped")
	ErrInvalidConfig  = errors.New("invalid account config")
	// ErrWorkerStuck старый воркер не вышел даже после отмены, новый не запускаем.
	ErrWorkerStuck    = errors.New("processor worker did not exit")
)
