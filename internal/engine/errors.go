package engine

import "errors"

var (
	// ErrNoWorkflow is returned when Execute is called before SetWorkflow
	ErrNoWorkflow = errors.New("no workflow set")

	// ErrUnknownEvent is returned when a callback is registered for an
	// event the engine never emits
	ErrUnknownEvent = errors.New("unknown event type")
)
