package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAlert_Crossed(t *testing.T) {
	tests := []struct {
		name      string
		typ       AlertType
		threshold string
		oldPrice  string
		newPrice  string
		want      bool
	}{
		{"above crosses", AlertPriceAbove, "185.00", "180.00", "186.00", true},
		{"above lands on threshold", AlertPriceAbove, "185.00", "180.00", "185.00", true},
		{"above already above", AlertPriceAbove, "185.00", "186.00", "190.00", false},
		{"above old equals threshold", AlertPriceAbove, "185.00", "185.00", "190.00", false},
		{"above falls short", AlertPriceAbove, "185.00", "180.00", "184.99", false},
		{"below crosses", AlertPriceBelow, "50.00", "52.00", "48.00", true},
		{"below lands on threshold", AlertPriceBelow, "50.00", "52.00", "50.00", true},
		{"below already below", AlertPriceBelow, "50.00", "48.00", "47.00", false},
		{"below moving up", AlertPriceBelow, "50.00", "48.00", "52.00", false},
		{"percent rise", AlertPercentageChange, "5", "100", "105", true},
		{"percent drop", AlertPercentageChange, "5", "100", "94", true},
		{"percent small", AlertPercentageChange, "5", "100", "104.99", false},
		{"percent from zero", AlertPercentageChange, "5", "0", "100", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Alert{Type: tt.typ, Threshold: dec(tt.threshold)}
			if got := a.Crossed(dec(tt.oldPrice), dec(tt.newPrice)); got != tt.want {
				t.Errorf("Crossed(%s -> %s) = %v, want %v", tt.oldPrice, tt.newPrice, got, tt.want)
			}
		})
	}
}

func TestAlert_TriggeredIsInert(t *testing.T) {
	a := &Alert{Type: AlertPriceAbove, Threshold: dec("185")}
	if !a.Crossed(dec("180"), dec("186")) {
		t.Fatal("Expected first crossing to fire")
	}

	now := time.Now()
	a.MarkTriggered(now)
	if !a.IsTriggered || a.LastTriggeredAt == nil || !a.LastTriggeredAt.Equal(now) {
		t.Fatal("MarkTriggered should set terminal state")
	}

	if a.Crossed(dec("180"), dec("190")) {
		t.Error("Triggered alert should not fire again")
	}
}

func TestAlert_Validate(t *testing.T) {
	valid := Alert{UserID: "u1", Symbol: "AAPL", Type: AlertPriceAbove, Threshold: dec("10")}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid alert, got %v", err)
	}

	cases := map[string]Alert{
		"no user":        {Symbol: "AAPL", Type: AlertPriceAbove, Threshold: dec("10")},
		"zero threshold": {UserID: "u1", Symbol: "AAPL", Type: AlertPriceBelow, Threshold: decimal.Zero},
		"bad type":       {UserID: "u1", Symbol: "AAPL", Type: "Sideways", Threshold: dec("1")},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			if err := a.Validate(); !errors.Is(err, ErrInvalidAlert) {
				t.Errorf("Expected ErrInvalidAlert, got %v", err)
			}
		})
	}

	bad := Alert{UserID: "u1", Symbol: "../etc", Type: AlertPriceAbove, Threshold: dec("1")}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Expected ErrInvalidSymbol, got %v", err)
	}
}

func TestParseAlertType(t *testing.T) {
	cases := map[string]AlertType{
		"PriceAbove":        AlertPriceAbove,
		"price_below":       AlertPriceBelow,
		"percentage_change": AlertPercentageChange,
		"percent_change":    AlertPercentageChange,
	}
	for in, want := range cases {
		got, err := ParseAlertType(in)
		if err != nil || got != want {
			t.Errorf("ParseAlertType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	if _, err := ParseAlertType("nope"); err == nil {
		t.Error("Expected error for unknown type")
	}
}
