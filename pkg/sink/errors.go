package sink

import "errors"

var (
	// ErrSinkIO wraps a failure creating, writing or closing a dump file
	ErrSinkIO = errors.New("chunk debug file sink failed")

	// ErrConnect wraps a failure opening the stream connection
	ErrConnect = errors.New("chunk debug stream connect failed")

	// ErrStreamIO wraps a write or flush failure during a streaming session
	ErrStreamIO = errors.New("chunk debug stream write failed")
)
