package storage

import (
	"time"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
)

// alertRow is the persisted form of domain.Alert.
type alertRow struct {
	ID              string          `gorm:"primaryKey"`
	UserID          string          `gorm:"index;not null"`
	Symbol          string          `gorm:"index:idx_alert_symbol_state;not null"`
	Type            string          `gorm:"not null"`
	Threshold       decimal.Decimal `gorm:"type:text;not null"`
	IsTriggered     bool            `gorm:"index:idx_alert_symbol_state;not null;default:false"`
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

func (alertRow) TableName() string { return "alerts" }

// watchlistRow is one (user, symbol) interest. The composite key enforces uniqueness.
type watchlistRow struct {
	UserID    string `gorm:"primaryKey"`
	Symbol    string `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

func (watchlistRow) TableName() string { return "watchlist_items" }

type tickRow struct {
	ID     uint            `gorm:"primaryKey;autoIncrement"`
	Symbol string          `gorm:"index:idx_tick_symbol_at;not null"`
	Price  decimal.Decimal `gorm:"type:text;not null"`
	Volume decimal.Decimal `gorm:"type:text"`
	At     time.Time       `gorm:"index:idx_tick_symbol_at;index"`
}

func (tickRow) TableName() string { return "price_ticks" }

type quoteRow struct {
	Symbol        string          `gorm:"primaryKey"`
	CurrentPrice  decimal.Decimal `gorm:"type:text"`
	PreviousClose decimal.Decimal `gorm:"type:text"`
	DayHigh       decimal.Decimal `gorm:"type:text"`
	DayLow        decimal.Decimal `gorm:"type:text"`
	Volume        decimal.Decimal `gorm:"type:text"`
	LastUpdated   time.Time
}

func (quoteRow) TableName() string { return "quotes" }

func alertToRow(a *domain.Alert) alertRow {
	return alertRow{
		ID:              a.ID,
		UserID:          a.UserID,
		Symbol:          a.Symbol,
		Type:            string(a.Type),
		Threshold:       a.Threshold,
		IsTriggered:     a.IsTriggered,
		LastTriggeredAt: a.LastTriggeredAt,
		CreatedAt:       a.CreatedAt,
	}
}

func (r alertRow) toDomain() *domain.Alert {
	return &domain.Alert{
		ID:              r.ID,
		UserID:          r.UserID,
		Symbol:          r.Symbol,
		Type:            domain.AlertType(r.Type),
		Threshold:       r.Threshold,
		IsTriggered:     r.IsTriggered,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
	}
}

func alertsFromRows(rows []alertRow) []*domain.Alert {
	out := make([]*domain.Alert, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

func tickToRow(t domain.PriceTick) tickRow {
	return tickRow{Symbol: t.Symbol, Price: t.Price, Volume: t.Volume, At: t.At.UTC()}
}

func (r tickRow) toDomain() domain.PriceTick {
	return domain.PriceTick{Symbol: r.Symbol, Price: r.Price, Volume: r.Volume, At: r.At}
}

func quoteToRow(q *domain.Quote) quoteRow {
	return quoteRow{
		Symbol:        q.Symbol,
		CurrentPrice:  q.CurrentPrice,
		PreviousClose: q.PreviousClose,
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		Volume:        q.Volume,
		LastUpdated:   q.LastUpdated,
	}
}

func (r quoteRow) toDomain() *domain.Quote {
	return &domain.Quote{
		Symbol:        r.Symbol,
		CurrentPrice:  r.CurrentPrice,
		PreviousClose: r.PreviousClose,
		DayHigh:       r.DayHigh,
		DayLow:        r.DayLow,
		Volume:        r.Volume,
		LastUpdated:   r.LastUpdated,
	}
}
