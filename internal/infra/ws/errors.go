package ws

import "errors"

// ErrSlowConsumer is returned when a connection's send buffer is full and the message was dropped.
var ErrSlowConsumer = errors.New("send buffer full")

var (
	errEmptySymbols   = errors.New("no symbols given")
	errTooManySymbols = errors.New("too many symbols in one command")
)
