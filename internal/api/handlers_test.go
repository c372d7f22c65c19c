package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immotech/server/config"
	"immotech/server/internal/analytics"
	"immotech/server/internal/database"
	"immotech/server/internal/models"
	"immotech/server/internal/property"
	"immotech/server/internal/transaction"
)

type testServer struct {
	router *gin.Engine
	db     *database.Database
	admin  *models.User
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := NewHandler(Services{
		Store:        db,
		Properties:   property.NewService(db, nil, nil, logger),
		Transactions: transaction.NewManager(db, t.TempDir(), logger),
		Aggregator:   analytics.NewAggregator(db, logger),
		Activity:     analytics.NewActivityReporter(db, logger),
		Cities:       config.DefaultCities,
	}, logger)

	admin := &models.User{ID: models.NewID(), FirstName: "Ada", LastName: "Admin", Email: "admin@example.com", Role: models.RoleAdmin, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.InsertUser(context.Background(), admin))

	return &testServer{router: NewRouter(handler, nil), db: db, admin: admin}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) register(t *testing.T, first, role string) *models.User {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/users", s.admin.ID, RegisterRequest{
		FirstName: first,
		LastName:  "Test",
		Email:     first + "@example.com",
		Role:      role,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[models.User](t, w)
	return &u
}

func propertyInput(city string, price float64) property.Input {
	lat, lon := 48.8566, 2.3522
	return property.Input{
		Title:   "Appartement",
		Type:    "apartment",
		Price:   price,
		Surface: 50,
		Rooms:   2,
		Location: models.Location{
			Address:    "1 rue de Rivoli",
			City:       city,
			PostalCode: "75001",
			Latitude:   &lat,
			Longitude:  &lon,
		},
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid input", fmt.Errorf("wrap: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{"forbidden", models.ErrForbidden, http.StatusForbidden},
		{"not found", models.ErrNotFound, http.StatusNotFound},
		{"no data", models.ErrNoData, http.StatusNotFound},
		{"conflict", models.ErrConflict, http.StatusConflict},
		{"declined", fmt.Errorf("%w: card refused", transaction.ErrPaymentDeclined), http.StatusPaymentRequired},
		{"backend", models.ErrBackend, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, statusFor(tt.err))
		})
	}
}

func TestRequestIDAndCities(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodGet, "/api/cities", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	cities := decode[[]config.City](t, w)
	assert.Len(t, cities, len(config.DefaultCities))

	req := httptest.NewRequest(http.MethodGet, "/api/cities", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(requestIDHeader))
}

func TestIdentity(t *testing.T) {
	s := setupServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/users/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/users/me", "not-an-id", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/users/me", models.NewID(), nil).Code)

	w := s.do(t, http.MethodGet, "/api/users/me", s.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.admin.ID, decode[models.User](t, w).ID)
}

func TestUsers(t *testing.T) {
	s := setupServer(t)

	// Self-registration defaults to client and cannot grant admin
	w := s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Cli", LastName: "Ent", Email: "Client@Example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	client := decode[models.User](t, w)
	assert.Equal(t, models.RoleClient, client.Role)
	assert.Equal(t, "client@example.com", client.Email)

	w = s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Eve", LastName: "X", Email: "eve@example.com", Role: models.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Agent accounts come from admins; owners may sign up themselves
	w = s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Mallory", LastName: "X", Email: "mallory@example.com", Role: models.RoleAgent})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, "/api/users", client.ID, RegisterRequest{FirstName: "Mallory", LastName: "X", Email: "mallory@example.com", Role: models.RoleAgent})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Olga", LastName: "X", Email: "olga@example.com", Role: models.RoleOwner})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.RoleOwner, decode[models.User](t, w).Role)

	w = s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Dup", LastName: "X", Email: "client@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/users", "", RegisterRequest{FirstName: "Bad", LastName: "X", Email: "bad@example.com", Role: "landlord"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/users", "", map[string]string{"first_name": "No"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Admin-only user management
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/admin/users", client.ID, nil).Code)

	w = s.do(t, http.MethodGet, "/api/admin/users", s.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.User](t, w), 3)

	w = s.do(t, http.MethodPut, "/api/admin/users/"+client.ID+"/role", s.admin.ID, RoleRequest{Role: models.RoleOwner})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleOwner, decode[models.User](t, w).Role)

	w = s.do(t, http.MethodPut, "/api/admin/users/"+models.NewID()+"/role", s.admin.ID, RoleRequest{Role: models.RoleOwner})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPropertyEndpoints(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	agent := s.register(t, "agent", models.RoleAgent)
	client := s.register(t, "client", models.RoleClient)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/properties", "", propertyInput("Paris", 1)).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/properties", client.ID, propertyInput("Paris", 1)).Code)

	w := s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Paris", 300000))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Property](t, w)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, owner.ID, created.CreatedBy)

	w = s.do(t, http.MethodGet, "/api/properties/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[models.Property](t, w).ID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/properties/"+models.NewID(), "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/properties/nope", "", nil).Code)

	// Only agents validate
	approve := ValidateRequest{Approved: new(bool)}
	*approve.Approved = true
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/properties/"+created.ID+"/validate", owner.ID, approve).Code)

	w = s.do(t, http.MethodPost, "/api/properties/"+created.ID+"/validate", agent.ID, approve)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusAvailable, decode[models.Property](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/properties?city=par&status=available", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Property](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/properties/nearby?lat=48.857&lon=2.352&radius_km=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]json.RawMessage](t, w), 1)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/properties/nearby?lon=2.3", "", nil).Code)

	// A stranger cannot edit the listing
	update := propertyInput("Paris", 290000)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/api/properties/"+created.ID, client.ID, update).Code)

	w = s.do(t, http.MethodPut, "/api/properties/"+created.ID, owner.ID, update)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 290000.0, decode[models.Property](t, w).Price)

	w = s.do(t, http.MethodPost, "/api/properties/"+created.ID+"/agent", owner.ID, AssignAgentRequest{AgentID: agent.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assigned := decode[models.Property](t, w)
	require.NotNil(t, assigned.AgentID)
	assert.Equal(t, agent.ID, *assigned.AgentID)

	price := 280000.0
	w = s.do(t, http.MethodPost, "/api/properties/"+created.ID+"/sold", agent.ID, SoldRequest{Price: &price})
	require.Equal(t, http.StatusOK, w.Code)
	sold := decode[models.Property](t, w)
	assert.Equal(t, models.StatusSold, sold.Status)
	require.NotNil(t, sold.OriginalPrice)
	assert.Equal(t, 290000.0, *sold.OriginalPrice)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/properties/"+created.ID+"/sold", agent.ID, SoldRequest{Price: &price}).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/properties/"+created.ID, owner.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/properties/"+created.ID, "", nil).Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	client := s.register(t, "client", models.RoleClient)

	for _, price := range []float64{100000, 200000} {
		w := s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Lyon", price))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/analytics/market", client.ID, nil).Code)

	w := s.do(t, http.MethodGet, "/api/analytics/market?city=lyon", owner.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[models.MarketReport](t, w)
	assert.Equal(t, 2, report.TotalProperties)
	assert.Equal(t, 150000.0, report.AveragePrice)
	assert.Equal(t, 3000.0, report.PricePerSqm)

	w = s.do(t, http.MethodGet, "/api/analytics/market?city=Marseille", owner.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"no data"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/analytics/trends?city=Lyon&period_days=30", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trends := decode[[]models.PricePoint](t, w)
	require.Len(t, trends, 1)
	assert.Equal(t, 2, trends[0].Count)

	w = s.do(t, http.MethodGet, "/api/analytics/market-analysis?city=Lyon", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	breakdown := decode[[]models.TypeBreakdown](t, w)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "apartment", breakdown[0].Type)

	w = s.do(t, http.MethodGet, "/api/analytics/surface-histogram?city=Lyon", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[models.Histogram](t, w)
	assert.Equal(t, []int{0, 2, 0, 0, 0, 0, 0}, hist.Data)

	w = s.do(t, http.MethodGet, "/api/analytics/districts?city=Lyon", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fc := decode[map[string]interface{}](t, w)
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.Len(t, fc["features"], 1)
}

func TestTransactionCompletedByListingAgent(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	agent := s.register(t, "agent", models.RoleAgent)
	buyer := s.register(t, "buyer", models.RoleClient)

	w := s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Lyon", 180000))
	require.Equal(t, http.StatusCreated, w.Code)
	prop := decode[models.Property](t, w)

	w = s.do(t, http.MethodPost, "/api/transactions", buyer.ID, transaction.CreateInput{
		PropertyID: prop.ID, SellerID: owner.ID, Type: models.TypeSale, Amount: 180000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tx := decode[models.Transaction](t, w)
	path := "/api/transactions/" + tx.ID + "/status"

	// Neither the buyer nor an unassigned agent can close the deal
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, path, agent.ID, StatusRequest{Status: models.TransactionCompleted}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, path, buyer.ID, StatusRequest{Status: models.TransactionCompleted}).Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/properties/"+prop.ID+"/agent", owner.ID, AssignAgentRequest{AgentID: agent.ID}).Code)

	w = s.do(t, http.MethodPut, path, agent.ID, StatusRequest{Status: models.TransactionCompleted})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.TransactionCompleted, decode[models.Transaction](t, w).Status)
}

func TestTransactionCancelledByBuyer(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	buyer := s.register(t, "buyer", models.RoleClient)
	outsider := s.register(t, "outsider", models.RoleClient)

	w := s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Paris", 90000))
	require.Equal(t, http.StatusCreated, w.Code)
	prop := decode[models.Property](t, w)

	w = s.do(t, http.MethodPost, "/api/transactions", buyer.ID, transaction.CreateInput{
		PropertyID: prop.ID, SellerID: owner.ID, Type: models.TypeSale, Amount: 90000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	path := "/api/transactions/" + decode[models.Transaction](t, w).ID + "/status"

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, path, outsider.ID, StatusRequest{Status: models.TransactionCancelled}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/transactions/"+models.NewID()+"/status", buyer.ID, StatusRequest{Status: models.TransactionCancelled}).Code)

	w = s.do(t, http.MethodPut, path, buyer.ID, StatusRequest{Status: models.TransactionCancelled})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TransactionCancelled, decode[models.Transaction](t, w).Status)
}

func TestActivityEndpoint(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	other := s.register(t, "other", models.RoleClient)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Paris", 1000)).Code)

	w := s.do(t, http.MethodGet, "/api/users/me/activity", owner.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[models.ActivityReport](t, w)
	assert.Equal(t, owner.ID, report.UserID)
	assert.Equal(t, 1, report.TotalProperties)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/users/"+owner.ID+"/activity", other.ID, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/users/"+owner.ID+"/activity", s.admin.ID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/users/xyz/activity", s.admin.ID, nil).Code)
}

func TestTransactionFlow(t *testing.T) {
	s := setupServer(t)
	owner := s.register(t, "owner", models.RoleOwner)
	buyer := s.register(t, "buyer", models.RoleClient)
	outsider := s.register(t, "outsider", models.RoleClient)

	w := s.do(t, http.MethodPost, "/api/properties", owner.ID, propertyInput("Paris", 250000))
	require.Equal(t, http.StatusCreated, w.Code)
	prop := decode[models.Property](t, w)

	in := transaction.CreateInput{PropertyID: prop.ID, SellerID: owner.ID, Type: models.TypeSale, Amount: 250000}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/transactions", outsider.ID, transaction.CreateInput{
		PropertyID: prop.ID, BuyerID: buyer.ID, SellerID: owner.ID, Type: models.TypeSale,
	}).Code)

	w = s.do(t, http.MethodPost, "/api/transactions", buyer.ID, in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tx := decode[models.Transaction](t, w)
	assert.Equal(t, buyer.ID, tx.BuyerID)
	assert.Equal(t, models.PaymentPending, tx.PaymentStatus)

	base := "/api/transactions/" + tx.ID
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, base, outsider.ID, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, base, owner.ID, nil).Code)

	// No contract before payment
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base+"/contract", buyer.ID, nil).Code)

	// Booking applies to rentals only
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, base+"/booking", buyer.ID, models.BookingDetails{}).Code)

	w = s.do(t, http.MethodPost, base+"/payment", buyer.ID, transaction.PaymentRequest{CardNumber: "4242 4242 4242 4242", PaymentMethod: "card"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paid := decode[models.Transaction](t, w)
	assert.Equal(t, models.PaymentCompleted, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentDetails)
	assert.Equal(t, "4242", paid.PaymentDetails.CardLast4)
	require.NotNil(t, paid.ContractPath)

	w = s.do(t, http.MethodGet, base+"/contract", owner.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), transaction.ContractFileName(tx.ID))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	// Only the seller side closes a deal
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, base+"/status", buyer.ID, StatusRequest{Status: models.TransactionCompleted}).Code)
	w = s.do(t, http.MethodPut, base+"/status", owner.ID, StatusRequest{Status: models.TransactionCompleted})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TransactionCompleted, decode[models.Transaction](t, w).Status)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPut, base+"/status", buyer.ID, StatusRequest{Status: models.TransactionCancelled}).Code)

	w = s.do(t, http.MethodGet, "/api/transactions", buyer.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Transaction](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/transactions", outsider.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/admin/contracts/reconcile", s.admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"generated":0}`, w.Body.String())
}
