package domain

import (
	"fmt"
	"strings"
)

// Owner identifies the holder of a subscription: either a single connection
// ("conn:<id>") or a stable user ("user:<id>").
type Owner string

const (
	connPrefix = "conn:"
	userPrefix = "user:"

	// GroupPopular is the global group receiving the popular-instruments aggregate.
	GroupPopular = "popular"

	maxSymbolLen = 16
)

// ConnOwner returns the owner key for an anonymous connection.
func ConnOwner(connID string) Owner {
	return Owner(connPrefix + connID)
}

// UserOwner returns the owner key for an authenticated user.
func UserOwner(userID string) Owner {
	return Owner(userPrefix + userID)
}

// IsUser reports whether the owner is a user key.
func (o Owner) IsUser() bool {
	return strings.HasPrefix(string(o), userPrefix)
}

// IsConn reports whether the owner is a connection key.
func (o Owner) IsConn() bool {
	return strings.HasPrefix(string(o), connPrefix)
}

// ID returns the owner id without its kind prefix.
func (o Owner) ID() string {
	s := string(o)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (o Owner) String() string {
	return string(o)
}

// Subscription is a single (owner, symbol) membership.
type Subscription struct {
	Owner  Owner  `json:"owner"`
	Symbol string `json:"symbol"`
}

// NormalizeSymbol upper-cases and trims a client supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol accepts letters, digits, '.', '-' and '^' up to 16 characters.
func ValidateSymbol(symbol string) error {
	if symbol == "" || len(symbol) > maxSymbolLen {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '^':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	if strings.Contains(symbol, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}
