package database

import (
	"context"
	"fmt"
	"time"

	"immotech/server/internal/models"
)

func (d *Database) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	if err := d.db.WithContext(ctx).Create(t).Error; err != nil {
		return backendErr("insert transaction", err)
	}
	return nil
}

func (d *Database) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := d.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, lookupErr("get transaction "+id, err)
	}
	return &t, nil
}

// FindTransactionsByUser returns the transactions where the user is buyer
// or seller, newest first.
func (d *Database) FindTransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := d.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").Order("id DESC").
		Find(&txs).Error
	if err != nil {
		return nil, backendErr("query user transactions", err)
	}
	return txs, nil
}

// CompletePayment moves payment_status from pending to completed. It reports
// false, without error, when the payment had already been completed.
func (d *Database) CompletePayment(ctx context.Context, id string, details models.PaymentDetails, at time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND payment_status = ?", id, models.PaymentPending).
		Updates(models.Transaction{
			PaymentStatus:  models.PaymentCompleted,
			PaymentDetails: &details,
			PaymentDate:    &at,
		})
	if res.Error != nil {
		return false, backendErr("complete payment", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Nothing matched: either unknown or already paid
	if _, err := d.GetTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (d *Database) ConfirmBooking(ctx context.Context, id string, details models.BookingDetails, at time.Time) error {
	confirmed := models.BookingConfirmed
	res := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(models.Transaction{
			BookingStatus:  &confirmed,
			BookingDetails: &details,
			BookingDate:    &at,
		})
	if res.Error != nil {
		return backendErr("confirm booking", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("confirm booking %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (d *Database) SetContractPath(ctx context.Context, id, path string) error {
	res := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("contract_path", path)
	if res.Error != nil {
		return backendErr("store contract path", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store contract path %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (d *Database) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	res := d.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return backendErr("update transaction status", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update transaction status %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// FindTransactionsMissingContract lists paid transactions that have no
// contract recorded, oldest first.
func (d *Database) FindTransactionsMissingContract(ctx context.Context, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := d.db.WithContext(ctx).
		Where("payment_status = ?", models.PaymentCompleted).
		Where("contract_path IS NULL OR contract_path = ''").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, backendErr("query transactions missing contracts", err)
	}
	return txs, nil
}
