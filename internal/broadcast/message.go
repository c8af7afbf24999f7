package broadcast

import (
	"encoding/json"
	"time"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
)

// Message types pushed to clients.
const (
	TypeQuote   = "quote"
	TypeAlert   = "alert"
	TypePopular = "popular"
	TypeAck     = "ack"
	TypeError   = "error"
)

// Envelope is the wire frame of every server message.
type Envelope struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Encode marshals a message of the given type.
func Encode(typ string, data any, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data, Time: at})
}

// QuotePayload is the client view of a quote.
type QuotePayload struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Direction     string          `json:"direction"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	Volume        decimal.Decimal `json:"volume"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewQuotePayload converts a domain quote.
func NewQuotePayload(q *domain.Quote) QuotePayload {
	return QuotePayload{
		Symbol:        q.Symbol,
		Price:         q.CurrentPrice,
		PreviousClose: q.PreviousClose,
		Change:        q.Change(),
		ChangePercent: q.ChangePercent().Round(2),
		Direction:     q.ChangeDirection(),
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		Volume:        q.Volume,
		UpdatedAt:     q.LastUpdated,
	}
}

// AlertPayload is the client view of a triggered alert.
type AlertPayload struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Type        string          `json:"alert_type"`
	Threshold   decimal.Decimal `json:"threshold"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
}

// NewAlertPayload converts a domain alert.
func NewAlertPayload(a *domain.Alert) AlertPayload {
	return AlertPayload{
		ID:          a.ID,
		Symbol:      a.Symbol,
		Type:        string(a.Type),
		Threshold:   a.Threshold,
		TriggeredAt: a.LastTriggeredAt,
	}
}

// AckPayload confirms a client command.
type AckPayload struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
	Group   string   `json:"group,omitempty"`
}

// ErrorPayload reports a rejected client command.
type ErrorPayload struct {
	Message string `json:"message"`
}
