package property

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"immotech/server/internal/geometry"
	"immotech/server/internal/models"
)

// Store is the listing persistence used by the service.
type Store interface {
	InsertProperty(ctx context.Context, p *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	UpdateProperty(ctx context.Context, p *models.Property) error
	DeleteProperty(ctx context.Context, id string) error
	FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error)
}

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	GeocodeAddress(ctx context.Context, street, postalCode, city string) (float64, float64, error)
}

// Notifier is told about new listings.
type Notifier interface {
	NotifyNewProperty(ctx context.Context, p *models.Property) error
}

// Input is the editable part of a listing.
type Input struct {
	Title           string          `json:"title" binding:"required"`
	Description     string          `json:"description"`
	Type            string          `json:"type" binding:"required"`
	TransactionType string          `json:"transaction_type"`
	Price           float64         `json:"price"`
	Surface         float64         `json:"surface"`
	Rooms           int             `json:"rooms"`
	Location        models.Location `json:"location"`
}

// SearchFilter narrows Search. Empty fields are ignored.
type SearchFilter struct {
	models.MarketFilter
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

type Service struct {
	store    Store
	geocoder Geocoder
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

// NewService wires the listing service. geocoder and notifier may be nil.
func NewService(store Store, geocoder Geocoder, notifier Notifier, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{
		store:    store,
		geocoder: geocoder,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (in Input) apply(p *models.Property) {
	p.Title = strings.TrimSpace(in.Title)
	p.Description = in.Description
	p.Type = strings.ToLower(strings.TrimSpace(in.Type))
	p.TransactionType = strings.ToLower(strings.TrimSpace(in.TransactionType))
	p.Price = in.Price
	p.Surface = in.Surface
	p.Rooms = in.Rooms
	p.Location = in.Location
}

func validate(p *models.Property) error {
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: type is required", models.ErrInvalidInput)
	}
	switch p.TransactionType {
	case "", models.TypeSale, models.TypeRental:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", models.ErrInvalidInput, p.TransactionType)
	}
	if p.Location.HasCoordinates() {
		if lat := *p.Location.Latitude; lat < -90 || lat > 90 {
			return fmt.Errorf("%w: latitude out of range", models.ErrInvalidInput)
		}
		if lon := *p.Location.Longitude; lon < -180 || lon > 180 {
			return fmt.Errorf("%w: longitude out of range", models.ErrInvalidInput)
		}
	}
	return p.Validate()
}

// Create stores a new pending listing owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*models.Property, error) {
	owner, err := models.ParseID(ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Property{
		ID:        models.NewID(),
		Status:    models.StatusPending,
		CreatedBy: owner,
		CreatedAt: &now,
	}
	in.apply(p)
	if p.TransactionType == "" {
		p.TransactionType = models.TypeSale
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	s.geocode(ctx, p)

	if err := s.store.InsertProperty(ctx, p); err != nil {
		s.logger.WithError(err).Error("Failed to create property")
		return nil, fmt.Errorf("failed to create property: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"property_id": p.ID,
		"city":        p.Location.City,
		"created_by":  owner,
	}).Info("Property created")

	if s.notifier != nil {
		if err := s.notifier.NotifyNewProperty(ctx, p); err != nil {
			s.logger.WithError(err).WithField("property_id", p.ID).Warn("Failed to send new property notification")
		}
	}
	return p, nil
}

// geocode fills missing coordinates. Failures only leave them empty.
func (s *Service) geocode(ctx context.Context, p *models.Property) {
	if s.geocoder == nil || p.Location.HasCoordinates() {
		return
	}
	lat, lon, err := s.geocoder.GeocodeAddress(ctx, p.Location.Address, p.Location.PostalCode, p.Location.City)
	if err != nil {
		s.logger.WithError(err).WithField("property_id", p.ID).Warn("Could not geocode property")
		return
	}
	p.Location.Latitude = &lat
	p.Location.Longitude = &lon
}

func (s *Service) Get(ctx context.Context, id string) (*models.Property, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.store.GetProperty(ctx, id)
}

// canManage is true for the owner, the assigned agent and admins.
func canManage(actor *models.User, p *models.Property) bool {
	if actor.IsAdmin() || p.CreatedBy == actor.ID {
		return true
	}
	return p.AgentID != nil && *p.AgentID == actor.ID
}

func (s *Service) getManaged(ctx context.Context, actor *models.User, id string) (*models.Property, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, p) {
		return nil, fmt.Errorf("%w: %s cannot manage property %s", models.ErrForbidden, actor.ID, p.ID)
	}
	return p, nil
}

// Update replaces the editable fields of a listing.
func (s *Service) Update(ctx context.Context, actor *models.User, id string, in Input) (*models.Property, error) {
	p, err := s.getManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	previous := p.Location
	in.apply(p)
	if p.TransactionType == "" {
		p.TransactionType = models.TypeSale
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if !p.Location.HasCoordinates() && previous.HasCoordinates() &&
		previous.Address == p.Location.Address && previous.City == p.Location.City && previous.PostalCode == p.Location.PostalCode {
		p.Location.Latitude, p.Location.Longitude = previous.Latitude, previous.Longitude
	}
	s.geocode(ctx, p)

	if err := s.store.UpdateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update property: %w", err)
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, actor *models.User, id string) error {
	p, err := s.getManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProperty(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"property_id": p.ID,
		"deleted_by":  actor.ID,
	}).Info("Property deleted")
	return nil
}

// Search lists listings matching f, newest first.
func (s *Service) Search(ctx context.Context, f SearchFilter) ([]models.Property, error) {
	pf := f.PropertyFilter()
	pf.Status = f.Status
	pf.Limit = f.Limit

	props, err := s.store.FindProperties(ctx, pf)
	if err != nil {
		return nil, fmt.Errorf("failed to search properties: %w", err)
	}
	if props == nil {
		props = []models.Property{}
	}
	return props, nil
}

// Validate records an agent's review. Approved listings become available,
// rejected ones stay pending.
func (s *Service) Validate(ctx context.Context, agent *models.User, id string, approved bool) (*models.Property, error) {
	if !agent.HasRole(models.RoleAgent, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: only agents validate listings", models.ErrForbidden)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	agentID := agent.ID
	p.ValidatedBy = &agentID
	p.ValidatedAt = &now
	if approved {
		p.ValidationStatus = models.ValidationApproved
		if p.Status == models.StatusPending {
			p.Status = models.StatusAvailable
		}
	} else {
		p.ValidationStatus = models.ValidationRejected
	}

	if err := s.store.UpdateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to validate property: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"property_id": p.ID,
		"agent_id":    agent.ID,
		"outcome":     p.ValidationStatus,
	}).Info("Property validated")
	return p, nil
}

// MarkSold closes a sale at finalPrice. The first listed price is kept as
// original_price for negotiation statistics.
func (s *Service) MarkSold(ctx context.Context, actor *models.User, id string, finalPrice float64) (*models.Property, error) {
	if finalPrice < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", models.ErrInvalidInput)
	}
	p, err := s.getManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusSold {
		return nil, fmt.Errorf("%w: property %s is already sold", models.ErrConflict, p.ID)
	}

	original := p.ListingPrice()
	p.OriginalPrice = &original
	p.Price = finalPrice
	p.Status = models.StatusSold

	if err := s.store.UpdateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to mark property sold: %w", err)
	}
	return p, nil
}

func (s *Service) MarkRented(ctx context.Context, actor *models.User, id string) (*models.Property, error) {
	p, err := s.getManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusSold {
		return nil, fmt.Errorf("%w: property %s is sold", models.ErrConflict, p.ID)
	}
	p.Status = models.StatusRented
	if err := s.store.UpdateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to mark property rented: %w", err)
	}
	return p, nil
}

// AssignAgent sets the agent in charge of a listing.
func (s *Service) AssignAgent(ctx context.Context, actor *models.User, id string, agent *models.User) (*models.Property, error) {
	if !agent.HasRole(models.RoleAgent) {
		return nil, fmt.Errorf("%w: user %s is not an agent", models.ErrInvalidInput, agent.ID)
	}
	p, err := s.getManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	agentID := agent.ID
	p.AgentID = &agentID
	if err := s.store.UpdateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to assign agent: %w", err)
	}
	return p, nil
}

// Nearby lists available listings within radiusKm of (lat, lon), closest first.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]geometry.Match, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", models.ErrInvalidInput)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", models.ErrInvalidInput)
	}

	props, err := s.store.FindProperties(ctx, models.PropertyFilter{Status: models.StatusAvailable})
	if err != nil {
		return nil, fmt.Errorf("failed to search nearby properties: %w", err)
	}
	return geometry.WithinRadius(props, orb.Point{lon, lat}, radiusKm), nil
}
