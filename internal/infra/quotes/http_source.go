// Package quotes implements domain.QuoteSource against a market-data HTTP API and a local simulator.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "quote-pulse/1.0 (+https://github.com/quote-pulse)"

var _ domain.QuoteSource = (*HTTPSource)(nil)

// HTTPSource fetches quotes from a Finnhub-style endpoint:
//
//	GET {baseURL}/quote?symbol=AAPL&token=KEY
//	{"c":185.2,"pc":182.1,"h":186,"l":181.9,"v":5312000,"t":1714575600}
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.httpClient = c }
}

// WithRateLimit caps outbound requests per second. Zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(s *HTTPSource) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets the attempt count and the base of the exponential backoff.
func WithRetry(maxRetries int, backoff time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.maxRetries = maxRetries
		s.backoff = backoff
	}
}

// NewHTTPSource creates a source for baseURL authenticated with apiKey.
func NewHTTPSource(baseURL, apiKey string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(30), 5),
		maxRetries: 2,
		backoff:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchQuote fetches the latest quote for symbol, retrying transient failures.
func (s *HTTPSource) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var lastErr error
	for i := 0; i <= s.maxRetries; i++ {
		if i > 0 {
			delay := s.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return nil, domain.NewSourceError(symbol, ctx.Err())
			case <-time.After(delay):
			}
		}

		q, err := s.doFetch(ctx, symbol)
		if err == nil {
			return q, nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return nil, err
		}
		slog.Debug("Quote fetch attempt failed",
			slog.String("symbol", symbol),
			slog.Int("attempt", i+1),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

func (s *HTTPSource) doFetch(ctx context.Context, symbol string) (*domain.Quote, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, domain.NewSourceError(symbol, err)
		}
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, domain.NewFatalSourceError(symbol, err)
	}
	u = u.JoinPath("quote")
	q := u.Query()
	q.Set("symbol", symbol)
	if s.apiKey != "" {
		q.Set("token", s.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.NewFatalSourceError(symbol, err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewSourceError(symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.NewSourceError(symbol, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.NewSourceError(symbol, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	default:
		return nil, domain.NewFatalSourceError(symbol, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	return parseQuote(symbol, body)
}

// parseQuote decodes the compact quote document.
// A zero current price means the provider does not know the symbol.
func parseQuote(symbol string, body []byte) (*domain.Quote, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewSourceError(symbol, errors.New("malformed response body"))
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, domain.NewFatalSourceError(symbol, errors.New(msg.String()))
	}

	fields := gjson.GetManyBytes(body, "c", "pc", "h", "l", "v", "t")
	if !fields[0].Exists() {
		return nil, domain.NewSourceError(symbol, errors.New("missing current price"))
	}

	current := toDecimal(fields[0])
	if current.IsZero() {
		return nil, domain.NewFatalSourceError(symbol, domain.ErrInvalidSymbol)
	}

	updated := time.Now().UTC()
	if ts := fields[5].Int(); ts > 0 {
		updated = time.Unix(ts, 0).UTC()
	}

	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  current,
		PreviousClose: toDecimal(fields[1]),
		DayHigh:       toDecimal(fields[2]),
		DayLow:        toDecimal(fields[3]),
		Volume:        toDecimal(fields[4]),
		LastUpdated:   updated,
	}, nil
}

func toDecimal(r gjson.Result) decimal.Decimal {
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero
	}
	if r.Type == gjson.Number {
		if d, err := decimal.NewFromString(r.Raw); err == nil {
			return d
		}
	}
	if d, err := decimal.NewFromString(r.String()); err == nil {
		return d
	}
	return decimal.NewFromFloat(r.Float())
}
