package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

const reconcileBatchSize = 100

// ErrPaymentDeclined is returned when the gateway refuses a payment.
var ErrPaymentDeclined = errors.New("payment declined")

// Store is the persistence used by the lifecycle manager.
type Store interface {
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindTransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error)
	CompletePayment(ctx context.Context, id string, details models.PaymentDetails, at time.Time) (bool, error)
	ConfirmBooking(ctx context.Context, id string, details models.BookingDetails, at time.Time) error
	SetContractPath(ctx context.Context, id, path string) error
	UpdateTransactionStatus(ctx context.Context, id, status string) error
	FindTransactionsMissingContract(ctx context.Context, limit int) ([]models.Transaction, error)
}

// PaymentGateway authorizes a payment before it is recorded.
type PaymentGateway interface {
	Authorize(ctx context.Context, t *models.Transaction, req PaymentRequest) error
}

// AcceptAllGateway approves every payment. It stands in until a real
// payment provider is wired.
type AcceptAllGateway struct{}

func (AcceptAllGateway) Authorize(context.Context, *models.Transaction, PaymentRequest) error {
	return nil
}

// Notifier is told about generated contracts.
type Notifier interface {
	NotifyContractGenerated(ctx context.Context, t *models.Transaction, p *models.Property) error
}

// CreateInput describes a new deal.
type CreateInput struct {
	PropertyID string  `json:"property_id" binding:"required"`
	BuyerID    string  `json:"buyer_id"`
	SellerID   string  `json:"seller_id" binding:"required"`
	Type       string  `json:"type" binding:"required"`
	Amount     float64 `json:"amount"`
}

// PaymentRequest carries what the client submits. The card number never
// leaves the manager: only its last four digits are stored.
type PaymentRequest struct {
	CardNumber    string `json:"card_number"`
	PaymentMethod string `json:"payment_method"`
}

type Manager struct {
	store        Store
	contractsDir string
	gateway      PaymentGateway
	renderer     Renderer
	notifier     Notifier
	logger       *logrus.Logger
	now          func() time.Time
}

type Option func(*Manager)

func WithGateway(g PaymentGateway) Option { return func(m *Manager) { m.gateway = g } }
func WithRenderer(r Renderer) Option      { return func(m *Manager) { m.renderer = r } }
func WithNotifier(n Notifier) Option      { return func(m *Manager) { m.notifier = n } }
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, contractsDir string, logger *logrus.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	m := &Manager{
		store:        store,
		contractsDir: contractsDir,
		gateway:      AcceptAllGateway{},
		renderer:     PDFRenderer{},
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create records a pending deal. Rentals start with a pending booking.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Transaction, error) {
	propertyID, err := models.ParseID(in.PropertyID)
	if err != nil {
		return nil, err
	}
	buyerID, err := models.ParseID(in.BuyerID)
	if err != nil {
		return nil, err
	}
	sellerID, err := models.ParseID(in.SellerID)
	if err != nil {
		return nil, err
	}
	if buyerID == sellerID {
		return nil, fmt.Errorf("%w: buyer and seller must differ", models.ErrInvalidInput)
	}
	if in.Type != models.TypeSale && in.Type != models.TypeRental {
		return nil, fmt.Errorf("%w: unknown transaction type %q", models.ErrInvalidInput, in.Type)
	}
	if in.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", models.ErrInvalidInput)
	}

	if _, err := m.store.GetProperty(ctx, propertyID); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	t := &models.Transaction{
		ID:            models.NewID(),
		PropertyID:    propertyID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Type:          in.Type,
		Amount:        in.Amount,
		Status:        models.TransactionPending,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     m.now(),
	}
	if in.Type == models.TypeRental {
		pending := models.BookingPending
		t.BookingStatus = &pending
	}

	if err := m.store.InsertTransaction(ctx, t); err != nil {
		m.logger.WithError(err).WithField("property_id", propertyID).Error("Failed to create transaction")
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"property_id":    propertyID,
		"type":           t.Type,
	}).Info("Transaction created")
	return t, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Transaction, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	return m.store.GetTransaction(ctx, id)
}

// ProcessPayment authorizes and records the payment, then generates the
// contract. A payment that already went through is never re-recorded; only
// a missing contract is produced.
func (m *Manager) ProcessPayment(ctx context.Context, id string, req PaymentRequest) (*models.Transaction, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := m.logger.WithField("transaction_id", t.ID)

	if t.Status == models.TransactionCancelled {
		return nil, fmt.Errorf("%w: transaction %s is cancelled", models.ErrConflict, t.ID)
	}

	if !t.PaymentCompleted() {
		if err := m.gateway.Authorize(ctx, t, req); err != nil {
			log.WithError(err).Warn("Payment declined")
			return nil, fmt.Errorf("%w: %w", ErrPaymentDeclined, err)
		}

		details := models.PaymentDetails{
			CardLast4:     lastFour(req.CardNumber),
			PaymentMethod: req.PaymentMethod,
			Amount:        t.Amount,
		}
		changed, err := m.store.CompletePayment(ctx, t.ID, details, m.now())
		if err != nil {
			log.WithError(err).Error("Failed to record payment")
			return nil, fmt.Errorf("failed to process payment: %w", err)
		}
		if changed {
			log.WithField("amount", t.Amount).Info("Payment completed")
		}
	}

	if _, err := m.GenerateContract(ctx, t.ID); err != nil {
		// Payment stands; ReconcileContracts retries the contract.
		log.WithError(err).Error("Contract generation failed after payment")
	}

	return m.store.GetTransaction(ctx, t.ID)
}

// ProcessBooking confirms the booking of a rental. Payment is not required.
func (m *Manager) ProcessBooking(ctx context.Context, id string, details models.BookingDetails) (*models.Transaction, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Type != models.TypeRental {
		return nil, fmt.Errorf("%w: only rentals can be booked", models.ErrInvalidInput)
	}
	if t.Status == models.TransactionCancelled {
		return nil, fmt.Errorf("%w: transaction %s is cancelled", models.ErrConflict, t.ID)
	}
	if t.BookingStatus != nil && *t.BookingStatus == models.BookingConfirmed {
		return t, nil
	}

	if err := m.store.ConfirmBooking(ctx, t.ID, details, m.now()); err != nil {
		m.logger.WithError(err).WithField("transaction_id", t.ID).Error("Failed to confirm booking")
		return nil, fmt.Errorf("failed to process booking: %w", err)
	}
	m.logger.WithField("transaction_id", t.ID).Info("Booking confirmed")
	return m.store.GetTransaction(ctx, t.ID)
}

// GenerateContract renders contract_<id>.pdf for a paid transaction and
// records it. An existing contract whose file is still present is reused.
func (m *Manager) GenerateContract(ctx context.Context, id string) (string, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !t.PaymentCompleted() {
		return "", fmt.Errorf("%w: payment for %s is not completed", models.ErrConflict, t.ID)
	}

	if t.ContractPath != nil && *t.ContractPath != "" {
		existing := m.resolve(*t.ContractPath)
		if _, err := os.Stat(existing); err == nil {
			return existing, nil
		}
		m.logger.WithField("transaction_id", t.ID).Warn("Recorded contract file is missing, regenerating")
	}

	c := Contract{Transaction: t, GeneratedAt: m.now()}
	if c.Property, err = lookup(ctx, t.PropertyID, m.store.GetProperty); err != nil {
		return "", fmt.Errorf("failed to generate contract: %w", err)
	}
	if c.Buyer, err = lookup(ctx, t.BuyerID, m.store.GetUser); err != nil {
		return "", fmt.Errorf("failed to generate contract: %w", err)
	}
	if c.Seller, err = lookup(ctx, t.SellerID, m.store.GetUser); err != nil {
		return "", fmt.Errorf("failed to generate contract: %w", err)
	}

	if err := os.MkdirAll(m.contractsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create contracts directory: %w", err)
	}
	name := ContractFileName(t.ID)
	path := m.resolve(name)
	if err := m.renderer.Render(path, c); err != nil {
		m.logger.WithError(err).WithField("transaction_id", t.ID).Error("Failed to render contract")
		return "", err
	}
	if err := m.store.SetContractPath(ctx, t.ID, name); err != nil {
		return "", fmt.Errorf("failed to record contract: %w", err)
	}
	t.ContractPath = &name

	m.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"contract":       name,
	}).Info("Contract generated")

	if m.notifier != nil {
		if err := m.notifier.NotifyContractGenerated(ctx, t, c.Property); err != nil {
			m.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Failed to send contract notification")
		}
	}
	return path, nil
}

// ContractPath returns the location of the stored contract file.
func (m *Manager) ContractPath(ctx context.Context, id string) (string, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if t.ContractPath == nil || *t.ContractPath == "" {
		return "", fmt.Errorf("contract for %s: %w", t.ID, models.ErrNotFound)
	}
	path := m.resolve(*t.ContractPath)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("contract file for %s: %w", t.ID, models.ErrNotFound)
	}
	return path, nil
}

var statusTransitions = map[string][]string{
	models.TransactionPending: {models.TransactionCompleted, models.TransactionCancelled},
}

// UpdateStatus moves the deal status forward. Completed and cancelled are final.
func (m *Manager) UpdateStatus(ctx context.Context, id, status string) (*models.Transaction, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch status {
	case models.TransactionPending, models.TransactionCompleted, models.TransactionCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, status)
	}
	if t.Status == status {
		return t, nil
	}

	allowed := false
	for _, next := range statusTransitions[t.Status] {
		if next == status {
			allowed = true
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot move transaction from %s to %s", models.ErrConflict, t.Status, status)
	}

	if err := m.store.UpdateTransactionStatus(ctx, t.ID, status); err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"from":           t.Status,
		"to":             status,
	}).Info("Transaction status updated")
	t.Status = status
	return t, nil
}

// History lists the user's deals, newest first.
func (m *Manager) History(ctx context.Context, userID string) ([]models.Transaction, error) {
	id, err := models.ParseID(userID)
	if err != nil {
		return nil, err
	}
	txs, err := m.store.FindTransactionsByUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

// ReconcileContracts generates the contracts of paid transactions that
// have none. It returns how many were produced.
func (m *Manager) ReconcileContracts(ctx context.Context) (int, error) {
	pending, err := m.store.FindTransactionsMissingContract(ctx, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find transactions missing contracts: %w", err)
	}

	var errs []error
	generated := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := m.GenerateContract(ctx, t.ID); err != nil {
			m.logger.WithError(err).WithField("transaction_id", t.ID).Error("Contract reconciliation failed")
			errs = append(errs, fmt.Errorf("transaction %s: %w", t.ID, err))
			continue
		}
		generated++
	}

	if len(pending) > 0 {
		m.logger.WithFields(logrus.Fields{
			"pending":   len(pending),
			"generated": generated,
		}).Info("Contract reconciliation finished")
	}
	return generated, errors.Join(errs...)
}

// ContractFileName is derived from the transaction id only.
func ContractFileName(id string) string {
	return fmt.Sprintf("contract_%s.pdf", id)
}

func (m *Manager) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.contractsDir, filepath.Base(name))
}

// lookup tolerates dangling references: a missing record prints as unknown.
func lookup[T any](ctx context.Context, id string, get func(context.Context, string) (*T, error)) (*T, error) {
	v, err := get(ctx, id)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput) {
		return nil, nil
	}
	return v, err
}

func lastFour(card string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, card)
	if len(digits) > 4 {
		return digits[len(digits)-4:]
	}
	return digits
}
