package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

// Store is the full method set shared by the SQLite and MongoDB backends.
type Store interface {
	InsertProperty(ctx context.Context, p *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	UpdateProperty(ctx context.Context, p *models.Property) error
	DeleteProperty(ctx context.Context, id string) error
	FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error)
	UpsertProperties(ctx context.Context, props []*models.Property) error
	PriceTrend(ctx context.Context, f models.PropertyFilter, since time.Time) ([]models.PricePoint, error)
	TypeBreakdown(ctx context.Context, city string) ([]models.TypeBreakdown, error)

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindTransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error)
	CompletePayment(ctx context.Context, id string, details models.PaymentDetails, at time.Time) (bool, error)
	ConfirmBooking(ctx context.Context, id string, details models.BookingDetails, at time.Time) error
	SetContractPath(ctx context.Context, id, path string) error
	UpdateTransactionStatus(ctx context.Context, id, status string) error
	FindTransactionsMissingContract(ctx context.Context, limit int) ([]models.Transaction, error)

	InsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error

	RunMigrations() error
	Close() error
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*MongoStore)(nil)
)

// Supported backends
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	Timeout       time.Duration
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options, logger *logrus.Logger) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewDatabase(opts.SQLitePath, logger)
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase, opts.Timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}
