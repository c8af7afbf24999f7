package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the last-known price snapshot of a single instrument.
// DayHigh >= CurrentPrice >= DayLow is expected within a session but not enforced.
type Quote struct {
	Symbol        string          `json:"symbol"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	Volume        decimal.Decimal `json:"volume"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Clone returns a copy safe to hand to another goroutine.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

// Change returns CurrentPrice - PreviousClose.
func (q *Quote) Change() decimal.Decimal {
	return q.CurrentPrice.Sub(q.PreviousClose)
}

// ChangePercent calculates 100 * (Current - PreviousClose) / PreviousClose.
// Zero when there is no previous close.
func (q *Quote) ChangePercent() decimal.Decimal {
	if q.PreviousClose.IsZero() {
		return decimal.Zero
	}
	return q.Change().Div(q.PreviousClose).Mul(decimal.NewFromInt(100))
}

// ChangeDirection returns "positive", "negative", or "neutral"
func (q *Quote) ChangeDirection() string {
	change := q.Change()
	if change.IsPositive() {
		return "positive"
	}
	if change.IsNegative() {
		return "negative"
	}
	return "neutral"
}

// PriceChanged reports whether next carries a different price than q.
// A nil receiver always counts as changed.
func (q *Quote) PriceChanged(next *Quote) bool {
	if q == nil {
		return true
	}
	return !q.CurrentPrice.Equal(next.CurrentPrice)
}

// PriceTick is one observed price change, kept for history queries.
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	At     time.Time       `json:"at"`
}
