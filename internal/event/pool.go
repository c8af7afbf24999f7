package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// priceChangedPool recycles events between scheduler ticks.
//
// Usage:
//
//	ev := AcquirePriceChanged()
//	ev.Symbol = "AAPL"
//	dispatcher.Dispatch(ctx, ev)
//	ReleasePriceChanged(ev)
var priceChangedPool = sync.Pool{
	New: func() interface{} {
		return &PriceChanged{}
	},
}

// AcquirePriceChanged gets a PriceChanged from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceChanged() *PriceChanged {
	return priceChangedPool.Get().(*PriceChanged)
}

// ReleasePriceChanged returns a PriceChanged to the pool after resetting it.
func ReleasePriceChanged(ev *PriceChanged) {
	if ev == nil {
		return
	}
	ev.Symbol = ""
	ev.OldPrice = decimal.Zero
	ev.NewPrice = decimal.Zero
	ev.Quote = nil
	ev.At = time.Time{}

	priceChangedPool.Put(ev)
}
