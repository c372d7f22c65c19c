package models

import "time"

// MarketFilter narrows a market report. Empty fields are ignored.
type MarketFilter struct {
	City            string `json:"city" form:"city"`
	PropertyType    string `json:"property_type" form:"property_type"`
	TransactionType string `json:"transaction_type" form:"transaction_type"`
}

// PropertyFilter converts the report criteria into a store filter.
func (f MarketFilter) PropertyFilter() PropertyFilter {
	return PropertyFilter{
		City:            f.City,
		PropertyType:    f.PropertyType,
		TransactionType: f.TransactionType,
	}
}

// PricePoint is one month of a price trend.
type PricePoint struct {
	Period       string  `json:"period"`
	Year         int     `json:"year"`
	Month        int     `json:"month"`
	AveragePrice float64 `json:"price"`
	Count        int     `json:"count"`
}

// SurfaceBucket counts properties with Min <= surface < Max. A nil Max is unbounded.
type SurfaceBucket struct {
	Label string   `json:"label"`
	Min   float64  `json:"min"`
	Max   *float64 `json:"max"`
	Count int      `json:"count"`
}

// TypeBreakdown aggregates the listings of one property type.
type TypeBreakdown struct {
	Type           string  `json:"type"`
	Count          int     `json:"count"`
	AveragePrice   float64 `json:"average_price"`
	AverageSurface float64 `json:"average_surface"`
	PricePerSqm    float64 `json:"price_per_sqm"`
}

// Histogram holds parallel label and count sequences for charting.
type Histogram struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

type MarketReport struct {
	TotalProperties     int             `json:"total_properties"`
	AvailableProperties int             `json:"available_properties"`
	AveragePrice        float64         `json:"average_price"`
	PricePerSqm         float64         `json:"price_per_sqm"`
	AverageTimeOnMarket float64         `json:"average_time_on_market"`
	NegotiationRate     float64         `json:"negotiation_rate"`
	PriceTrend          []PricePoint    `json:"price_trend"`
	SurfaceDistribution []SurfaceBucket `json:"surface_distribution"`
	City                string          `json:"city"`
	PropertyType        string          `json:"property_type"`
	TransactionType     string          `json:"transaction_type"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

type ActivityStats struct {
	PropertiesValue   float64 `json:"properties_value"`
	TransactionsValue float64 `json:"transactions_value"`
	ActiveListings    int     `json:"active_listings"`
}

type ActivityReport struct {
	UserID            string        `json:"user_id"`
	Properties        []Property    `json:"properties"`
	TotalProperties   int           `json:"total_properties"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	Stats             ActivityStats `json:"stats"`
}
