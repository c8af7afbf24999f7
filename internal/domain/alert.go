package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType selects the threshold-crossing rule of an alert.
type AlertType string

const (
	AlertPriceAbove       AlertType = "PriceAbove"
	AlertPriceBelow       AlertType = "PriceBelow"
	AlertPercentageChange AlertType = "PercentageChange"
)

var hundred = decimal.NewFromInt(100)

// ParseAlertType accepts the canonical names plus the snake_case forms used by clients.
func ParseAlertType(s string) (AlertType, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "priceabove", "above":
		return AlertPriceAbove, nil
	case "pricebelow", "below":
		return AlertPriceBelow, nil
	case "percentagechange", "percentchange":
		return AlertPercentageChange, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, s)
	}
}

// Alert is a one-shot price alert owned by a user.
// Once IsTriggered is set the alert never fires again until deleted.
type Alert struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Symbol          string          `json:"symbol"`
	Type            AlertType       `json:"type"`
	Threshold       decimal.Decimal `json:"threshold"`
	IsTriggered     bool            `json:"is_triggered"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the fields a user supplies when creating an alert.
func (a *Alert) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidAlert)
	}
	if err := ValidateSymbol(a.Symbol); err != nil {
		return err
	}
	switch a.Type {
	case AlertPriceAbove, AlertPriceBelow:
		if !a.Threshold.IsPositive() {
			return fmt.Errorf("%w: price threshold must be positive", ErrInvalidAlert)
		}
	case AlertPercentageChange:
		if !a.Threshold.IsPositive() {
			return fmt.Errorf("%w: percentage threshold must be positive", ErrInvalidAlert)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, a.Type)
	}
	return nil
}

// Crossed reports whether the move oldPrice -> newPrice satisfies the alert rule.
// - PriceAbove: oldPrice < threshold <= newPrice
// - PriceBelow: oldPrice > threshold >= newPrice
// - PercentageChange: |newPrice-oldPrice| / oldPrice * 100 >= threshold, never when oldPrice is zero
// Triggered alerts never cross.
func (a *Alert) Crossed(oldPrice, newPrice decimal.Decimal) bool {
	if a.IsTriggered {
		return false
	}
	switch a.Type {
	case AlertPriceAbove:
		return oldPrice.LessThan(a.Threshold) && a.Threshold.LessThanOrEqual(newPrice)
	case AlertPriceBelow:
		return oldPrice.GreaterThan(a.Threshold) && a.Threshold.GreaterThanOrEqual(newPrice)
	case AlertPercentageChange:
		if oldPrice.IsZero() {
			return false
		}
		pct := newPrice.Sub(oldPrice).Div(oldPrice).Mul(hundred).Abs()
		return pct.GreaterThanOrEqual(a.Threshold)
	default:
		return false
	}
}

// MarkTriggered moves the alert into its terminal state.
func (a *Alert) MarkTriggered(at time.Time) {
	a.IsTriggered = true
	a.LastTriggeredAt = &at
}
