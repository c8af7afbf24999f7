package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// SourceError is a failed quote fetch. Transient failures are retried on the next tick.
type SourceError struct {
	Symbol    string // Symbol being fetched
	Err       error  // Underlying error
	Retriable bool   // Whether the next tick may succeed
}

func (e *SourceError) Error() string {
	return "fetch " + e.Symbol + ": " + e.Err.Error()
}

func (e *SourceError) IsRetriable() bool {
	return e.Retriable
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a retriable quote source error
func NewSourceError(symbol string, err error) *SourceError {
	return &SourceError{Symbol: symbol, Err: err, Retriable: true}
}

// NewFatalSourceError creates a non-retriable quote source error (e.g. unknown symbol)
func NewFatalSourceError(symbol string, err error) *SourceError {
	return &SourceError{Symbol: symbol, Err: err, Retriable: false}
}

// PersistenceError wraps a repository failure for a single key.
type PersistenceError struct {
	Op  string // "save_alert", "load_watchlist", ...
	Key string // alert id, user id or symbol
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + " [" + e.Key + "]: " + e.Err.Error()
}

func (e *PersistenceError) IsRetriable() bool {
	return true
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidSymbol is returned when a symbol is empty or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidAlert is returned when an alert definition is rejected.
	ErrInvalidAlert = errors.New("invalid alert")

	// ErrNotFound is returned by repositories when a keyed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuoteUnavailable is returned when neither the store nor the source has a quote.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrInvalidRange is returned when a history query range is reversed or too wide.
	ErrInvalidRange = errors.New("invalid range")

	// ErrMissingUser is returned when a user-scoped operation has no user id.
	ErrMissingUser = errors.New("missing user id")

	// ErrNoConnection is returned by a Transport when the owner has no live connection.
	ErrNoConnection = errors.New("no live connection")

	// ErrAlreadyRunning is returned when a background task is started twice.
	ErrAlreadyRunning = errors.New("already running")
)
