package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"quote_pulse/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Compile-time checks
var (
	_ domain.AlertRepository        = (*Storage)(nil)
	_ domain.WatchlistRepository    = (*Storage)(nil)
	_ domain.PriceHistoryRepository = (*Storage)(nil)
)

// Storage is the SQLite-backed persistence adapter for alerts, watchlists,
// price history and last-known quotes.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath and migrates the schema.
// An empty dbPath resolves to the per-user data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&alertRow{}, &watchlistRow{}, &tickRow{}, &quoteRow{})
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "QuotePulse", "data", "quote_pulse.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceError{Op: op, Key: key, Err: err}
}

// ======================================================================================
// Alert Operations
// ======================================================================================

// LoadActiveAlerts returns the untriggered alerts for a symbol, oldest first.
func (s *Storage) LoadActiveAlerts(ctx context.Context, symbol string) ([]*domain.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND is_triggered = ?", symbol, false).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("load_active_alerts", symbol, err)
	}
	return alertsFromRows(rows), nil
}

// SaveAlert inserts a new alert.
func (s *Storage) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	row := alertToRow(alert)
	return wrap("save_alert", alert.ID, s.db.WithContext(ctx).Create(&row).Error)
}

// MarkAlertTriggered flips an untriggered alert to triggered in one conditional update.
// A deleted or already triggered alert is left untouched and reported as false.
func (s *Storage) MarkAlertTriggered(ctx context.Context, alertID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&alertRow{}).
		Where("id = ? AND is_triggered = ?", alertID, false).
		Updates(map[string]any{
			"is_triggered":      true,
			"last_triggered_at": at.UTC(),
		})
	if res.Error != nil {
		return false, wrap("mark_alert_triggered", alertID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListAlerts returns every alert owned by userID, newest first.
func (s *Storage) ListAlerts(ctx context.Context, userID string) ([]*domain.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list_alerts", userID, err)
	}
	return alertsFromRows(rows), nil
}

// DeleteAlert removes an alert owned by userID. Returns ErrNotFound otherwise.
func (s *Storage) DeleteAlert(ctx context.Context, userID, alertID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", alertID, userID).
		Delete(&alertRow{})
	if res.Error != nil {
		return wrap("delete_alert", alertID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	return nil
}

// ======================================================================================
// Watchlist Operations
// ======================================================================================

// AddWatchlistItem records userID's interest in symbol. Adding twice is a no-op.
func (s *Storage) AddWatchlistItem(ctx context.Context, userID, symbol string) error {
	row := watchlistRow{UserID: userID, Symbol: symbol, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	return wrap("add_watchlist", userID, err)
}

// RemoveWatchlistItem deletes a watchlist entry. Returns ErrNotFound if absent.
func (s *Storage) RemoveWatchlistItem(ctx context.Context, userID, symbol string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		Delete(&watchlistRow{})
	if res.Error != nil {
		return wrap("remove_watchlist", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("watchlist %s/%s: %w", userID, symbol, domain.ErrNotFound)
	}
	return nil
}

// LoadUserWatchlist returns the symbols userID watches in insertion order.
func (s *Storage) LoadUserWatchlist(ctx context.Context, userID string) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&watchlistRow{}).
		Where("user_id = ?", userID).
		Order("created_at ASC, symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, wrap("load_watchlist", userID, err)
	}
	return symbols, nil
}

type popularity struct {
	Symbol   string
	Watchers int
}

// LoadPopularSymbols returns up to limit symbols watched by at least threshold
// distinct users, most watched first.
func (s *Storage) LoadPopularSymbols(ctx context.Context, threshold, limit int) ([]string, error) {
	var rows []popularity
	q := s.db.WithContext(ctx).
		Model(&watchlistRow{}).
		Select("symbol, COUNT(DISTINCT user_id) AS watchers").
		Group("symbol").
		Having("COUNT(DISTINCT user_id) >= ?", threshold).
		Order("watchers DESC, symbol ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, wrap("load_popular", "", err)
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Symbol
	}
	return out, nil
}

// LoadActiveSymbols returns every watched symbol plus every symbol with an untriggered alert, sorted.
func (s *Storage) LoadActiveSymbols(ctx context.Context) ([]string, error) {
	var watched, alerted []string
	db := s.db.WithContext(ctx)

	if err := db.Model(&watchlistRow{}).Distinct().Pluck("symbol", &watched).Error; err != nil {
		return nil, wrap("load_active_symbols", "watchlist", err)
	}
	if err := db.Model(&alertRow{}).Where("is_triggered = ?", false).Distinct().Pluck("symbol", &alerted).Error; err != nil {
		return nil, wrap("load_active_symbols", "alerts", err)
	}

	set := make(map[string]struct{}, len(watched)+len(alerted))
	for _, sym := range watched {
		set[sym] = struct{}{}
	}
	for _, sym := range alerted {
		set[sym] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// ======================================================================================
// Price History Operations
// ======================================================================================

// AppendTick stores one observed price change.
func (s *Storage) AppendTick(ctx context.Context, tick domain.PriceTick) error {
	row := tickToRow(tick)
	return wrap("append_tick", tick.Symbol, s.db.WithContext(ctx).Create(&row).Error)
}

// LoadHistory returns ticks for symbol with from <= At <= to, oldest first.
func (s *Storage) LoadHistory(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error) {
	var rows []tickRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND at >= ? AND at <= ?", symbol, from.UTC(), to.UTC()).
		Order("at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("load_history", symbol, err)
	}

	out := make([]domain.PriceTick, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// PruneHistory deletes ticks recorded before olderThan and reports how many were removed.
func (s *Storage) PruneHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("at < ?", olderThan.UTC()).Delete(&tickRow{})
	if res.Error != nil {
		return 0, wrap("prune_history", "", res.Error)
	}
	return res.RowsAffected, nil
}

// ======================================================================================
// Quote Snapshot Operations
// ======================================================================================

// SaveQuote upserts the last-known quote of a symbol.
func (s *Storage) SaveQuote(ctx context.Context, q *domain.Quote) error {
	row := quoteToRow(q)
	return wrap("save_quote", q.Symbol, s.db.WithContext(ctx).Save(&row).Error)
}

// GetQuote returns the stored quote for symbol or ErrNotFound.
func (s *Storage) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var row quoteRow
	err := s.db.WithContext(ctx).First(&row, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get_quote", symbol, err)
	}
	return row.toDomain(), nil
}

// LoadQuotes returns every stored quote, used to warm the in-memory store at startup.
func (s *Storage) LoadQuotes(ctx context.Context) ([]*domain.Quote, error) {
	var rows []quoteRow
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, wrap("load_quotes", "", err)
	}
	out := make([]*domain.Quote, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
