package analytics

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

// ActivityStore is what the activity report joins across.
type ActivityStore interface {
	FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error)
	FindTransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error)
	GetProperty(ctx context.Context, id string) (*models.Property, error)
}

// ActivityReporter builds per-user summaries.
type ActivityReporter struct {
	store  ActivityStore
	logger *logrus.Logger
}

func NewActivityReporter(store ActivityStore, logger *logrus.Logger) *ActivityReporter {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &ActivityReporter{store: store, logger: logger}
}

// GetUserActivityReport lists the user's listings and deals with totals.
// Any store failure fails the whole report; a transaction whose property
// cannot be found is returned without it.
func (r *ActivityReporter) GetUserActivityReport(ctx context.Context, userID string) (*models.ActivityReport, error) {
	id, err := models.ParseID(userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("Rejected activity report request")
		return nil, err
	}
	log := r.logger.WithField("user_id", id)

	props, err := r.store.FindProperties(ctx, models.PropertyFilter{CreatedBy: id})
	if err != nil {
		log.WithError(err).Error("Failed to load user properties")
		return nil, fmt.Errorf("failed to build activity report: %w", err)
	}

	txs, err := r.store.FindTransactionsByUser(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to load user transactions")
		return nil, fmt.Errorf("failed to build activity report: %w", err)
	}

	for i := range txs {
		p, err := r.store.GetProperty(ctx, txs[i].PropertyID)
		switch {
		case err == nil:
			txs[i].Property = p
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidInput):
			log.WithField("transaction_id", txs[i].ID).Debug("Transaction references a missing property")
		default:
			log.WithError(err).WithField("transaction_id", txs[i].ID).Warn("Failed to load transaction property")
		}
	}

	report := &models.ActivityReport{
		UserID:            id,
		Properties:        props,
		TotalProperties:   len(props),
		Transactions:      txs,
		TotalTransactions: len(txs),
	}
	if report.Properties == nil {
		report.Properties = []models.Property{}
	}
	if report.Transactions == nil {
		report.Transactions = []models.Transaction{}
	}

	for _, p := range props {
		report.Stats.PropertiesValue += p.Price
		if p.Status == models.StatusAvailable {
			report.Stats.ActiveListings++
		}
	}
	for _, t := range txs {
		report.Stats.TransactionsValue += t.Amount
	}
	report.Stats.PropertiesValue = RoundPrice(report.Stats.PropertiesValue)
	report.Stats.TransactionsValue = RoundPrice(report.Stats.TransactionsValue)

	log.WithFields(logrus.Fields{
		"properties":   report.TotalProperties,
		"transactions": report.TotalTransactions,
	}).Info("Generated activity report")
	return report, nil
}
