package model

import "errors"

// HandlerEnum identifies a handler registered in a context.Context.
type HandlerEnum string

const (
	HandlerLog HandlerEnum = "pythagoras_handler_enum_log"
)

var ErrNoHandler = errors.New("no handler registered for this enum")

type ScopeConfig struct {
	BufferSize int // default: 1
	NumWorkers int // default: 1
}

func NewScopeConfig(bufferSize int, numWorkers int) ScopeConfig {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return ScopeConfig{
		BufferSize: bufferSize,
		NumWorkers: numWorkers,
	}
}
