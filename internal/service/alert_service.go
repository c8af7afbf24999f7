package service

import (
	"context"
	"time"

	"quote_pulse/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertService manages user alert definitions.
type AlertService struct {
	repo  domain.AlertRepository
	now   func() time.Time
	newID func() string
}

// NewAlertService creates the service.
func NewAlertService(repo domain.AlertRepository) *AlertService {
	return &AlertService{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create validates and stores a new untriggered alert.
func (s *AlertService) Create(ctx context.Context, userID, symbol, alertType string, threshold decimal.Decimal) (*domain.Alert, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	typ, err := domain.ParseAlertType(alertType)
	if err != nil {
		return nil, err
	}

	a := &domain.Alert{
		ID:        s.newID(),
		UserID:    userID,
		Symbol:    domain.NormalizeSymbol(symbol),
		Type:      typ,
		Threshold: threshold,
		CreatedAt: s.now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes one of userID's alerts.
func (s *AlertService) Delete(ctx context.Context, userID, alertID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	return s.repo.DeleteAlert(ctx, userID, alertID)
}

// List returns userID's alerts.
func (s *AlertService) List(ctx context.Context, userID string) ([]*domain.Alert, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListAlerts(ctx, userID)
	if alerts == nil && err == nil {
		alerts = []*domain.Alert{}
	}
	return alerts, err
}
