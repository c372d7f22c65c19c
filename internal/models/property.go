package models

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Property statuses
const (
	StatusPending   = "pending"
	StatusAvailable = "available"
	StatusSold      = "sold"
	StatusRented    = "rented"
)

// Listing validation outcomes
const (
	ValidationApproved = "approved"
	ValidationRejected = "rejected"
)

// Offer types, shared by listings and transactions
const (
	TypeSale   = "sale"
	TypeRental = "rental"
)

// Location is the embedded address block of a property.
type Location struct {
	Address    string   `json:"address" gorm:"column:address"`
	City       string   `json:"city" gorm:"column:city;index"`
	PostalCode string   `json:"postal_code" gorm:"column:postal_code"`
	Latitude   *float64 `json:"latitude" gorm:"column:latitude"`
	Longitude  *float64 `json:"longitude" gorm:"column:longitude"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() (orb.Point, bool) {
	if !l.HasCoordinates() {
		return orb.Point{}, false
	}
	return orb.Point{*l.Longitude, *l.Latitude}, true
}

type Property struct {
	ID               string     `json:"id" gorm:"primaryKey;size:24"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Type             string     `json:"type" gorm:"index"`
	TransactionType  string     `json:"transaction_type" gorm:"index"`
	Price            float64    `json:"price"`
	OriginalPrice    *float64   `json:"original_price,omitempty"`
	Surface          float64    `json:"surface"`
	Rooms            int        `json:"rooms"`
	Location         Location   `json:"location" gorm:"embedded;embeddedPrefix:location_"`
	Status           string     `json:"status" gorm:"index"`
	ValidationStatus string     `json:"validation_status,omitempty"`
	ValidatedBy      *string    `json:"validated_by,omitempty"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
	CreatedBy        string     `json:"created_by" gorm:"index;size:24"`
	AgentID          *string    `json:"agent_id,omitempty" gorm:"size:24"`
	CreatedAt        *time.Time `json:"created_at" gorm:"index"`
}

// Validate checks the numeric invariants of a listing.
func (p *Property) Validate() error {
	if p.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if p.Surface < 0 {
		return fmt.Errorf("%w: surface must not be negative", ErrInvalidInput)
	}
	if p.Rooms < 0 {
		return fmt.Errorf("%w: rooms must not be negative", ErrInvalidInput)
	}
	if p.OriginalPrice != nil && *p.OriginalPrice < 0 {
		return fmt.Errorf("%w: original price must not be negative", ErrInvalidInput)
	}
	return nil
}

// ListingPrice is the price the property was first offered at. Falls back
// to the current price when the listing was never renegotiated.
func (p *Property) ListingPrice() float64 {
	if p.OriginalPrice != nil {
		return *p.OriginalPrice
	}
	return p.Price
}

// PropertyFilter selects properties. Empty fields match everything.
type PropertyFilter struct {
	// City is matched case-insensitively as a substring.
	City string
	// CityExact switches City to a case-insensitive equality match.
	CityExact       bool
	PropertyType    string
	TransactionType string
	Status          string
	CreatedBy       string
	CreatedSince    *time.Time
	Limit           int
}
