package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immotech/server/config"
	"immotech/server/internal/analytics"
	"immotech/server/internal/database"
	"immotech/server/internal/models"
	"immotech/server/internal/property"
	"immotech/server/internal/transaction"
)

// UserStore is the user persistence the API needs directly.
type UserStore interface {
	InsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error
}

type Handler struct {
	users        UserStore
	properties   *property.Service
	transactions *transaction.Manager
	aggregator   *analytics.Aggregator
	activity     *analytics.ActivityReporter
	cities       []config.City
	logger       *logrus.Logger
	now          func() time.Time
}

// Services bundles what the handler serves.
type Services struct {
	Store        database.Store
	Properties   *property.Service
	Transactions *transaction.Manager
	Aggregator   *analytics.Aggregator
	Activity     *analytics.ActivityReporter
	Cities       []config.City
}

func NewHandler(s Services, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		users:        s.Store,
		properties:   s.Properties,
		transactions: s.Transactions,
		aggregator:   s.Aggregator,
		activity:     s.Activity,
		cities:       s.Cities,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the matching status. Server errors get
// the generic message instead of the cause.
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithField("request_id", c.GetString(requestIDKey))

	switch {
	case errors.Is(err, models.ErrNoData):
		c.JSON(status, gin.H{"error": "no data"})
		return
	case status >= http.StatusInternalServerError:
		entry.Error(message)
		c.JSON(status, gin.H{"error": message})
		return
	}

	entry.Warn(message)
	c.JSON(status, gin.H{"error": err.Error()})
}

// GetCities returns the markets the frontend map can center on.
func (h *Handler) GetCities(c *gin.Context) {
	c.JSON(http.StatusOK, h.cities)
}
