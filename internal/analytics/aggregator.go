package analytics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

const (
	marketTrendWindow  = 180 * 24 * time.Hour
	defaultTrendPeriod = 365
)

// PropertyReader is the part of the store the market reports read from.
type PropertyReader interface {
	FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error)
	PriceTrend(ctx context.Context, f models.PropertyFilter, since time.Time) ([]models.PricePoint, error)
	TypeBreakdown(ctx context.Context, city string) ([]models.TypeBreakdown, error)
}

// Aggregator computes market statistics over stored listings.
type Aggregator struct {
	store  PropertyReader
	logger *logrus.Logger
	now    func() time.Time
}

func NewAggregator(store PropertyReader, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Aggregator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GenerateMarketReport summarizes the listings matching f. It returns
// models.ErrNoData when nothing matches.
func (a *Aggregator) GenerateMarketReport(ctx context.Context, f models.MarketFilter) (*models.MarketReport, error) {
	log := a.logger.WithFields(logrus.Fields{
		"city":             f.City,
		"property_type":    f.PropertyType,
		"transaction_type": f.TransactionType,
	})

	props, err := a.store.FindProperties(ctx, f.PropertyFilter())
	if err != nil {
		log.WithError(err).Error("Failed to load properties for market report")
		return nil, fmt.Errorf("failed to generate market report: %w", err)
	}
	if len(props) == 0 {
		log.Info("No properties match market report filter")
		return nil, models.ErrNoData
	}

	now := a.now()
	trend, err := a.store.PriceTrend(ctx, f.PropertyFilter(), now.Add(-marketTrendWindow))
	if err != nil {
		log.WithError(err).Error("Failed to aggregate price trend")
		return nil, fmt.Errorf("failed to generate market report: %w", err)
	}
	for i := range trend {
		trend[i].AveragePrice = RoundPrice(trend[i].AveragePrice)
	}

	available := 0
	for _, p := range props {
		if p.Status == models.StatusAvailable {
			available++
		}
	}

	report := &models.MarketReport{
		TotalProperties:     len(props),
		AvailableProperties: available,
		AveragePrice:        RoundPrice(AveragePrice(props)),
		PricePerSqm:         RoundPrice(PricePerSqm(props)),
		AverageTimeOnMarket: RoundRate(AverageTimeOnMarket(props, now)),
		NegotiationRate:     RoundRate(NegotiationRate(props)),
		PriceTrend:          trend,
		SurfaceDistribution: SurfaceDistribution(props),
		City:                f.City,
		PropertyType:        f.PropertyType,
		TransactionType:     f.TransactionType,
		GeneratedAt:         now,
	}

	log.WithField("total_properties", report.TotalProperties).Info("Generated market report")
	return report, nil
}

// GetPriceTrends returns the monthly average price over the trailing
// periodDays, oldest month first. City and type match exactly.
func (a *Aggregator) GetPriceTrends(ctx context.Context, city, propertyType string, periodDays int) ([]models.PricePoint, error) {
	if periodDays <= 0 {
		periodDays = defaultTrendPeriod
	}

	filter := models.PropertyFilter{City: city, CityExact: true, PropertyType: propertyType}
	since := a.now().AddDate(0, 0, -periodDays)

	points, err := a.store.PriceTrend(ctx, filter, since)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"city":          city,
			"property_type": propertyType,
			"period_days":   periodDays,
		}).Error("Failed to get price trends")
		return nil, fmt.Errorf("failed to get price trends: %w", err)
	}
	for i := range points {
		points[i].AveragePrice = RoundPrice(points[i].AveragePrice)
	}
	if points == nil {
		points = []models.PricePoint{}
	}
	return points, nil
}

// GetMarketAnalysis breaks the market down per property type, most common
// type first.
func (a *Aggregator) GetMarketAnalysis(ctx context.Context, city string) ([]models.TypeBreakdown, error) {
	rows, err := a.store.TypeBreakdown(ctx, city)
	if err != nil {
		a.logger.WithError(err).WithField("city", city).Error("Failed to get market analysis")
		return nil, fmt.Errorf("failed to get market analysis: %w", err)
	}
	for i := range rows {
		rows[i].AveragePrice = RoundPrice(rows[i].AveragePrice)
		rows[i].AverageSurface = RoundPrice(rows[i].AverageSurface)
		rows[i].PricePerSqm = RoundPrice(rows[i].PricePerSqm)
	}
	if rows == nil {
		rows = []models.TypeBreakdown{}
	}
	return rows, nil
}

// SurfaceHistogram loads the surfaces of the listings matching f and bins them.
func (a *Aggregator) SurfaceHistogram(ctx context.Context, f models.MarketFilter) (models.Histogram, error) {
	props, err := a.store.FindProperties(ctx, f.PropertyFilter())
	if err != nil {
		a.logger.WithError(err).WithField("city", f.City).Error("Failed to load surfaces")
		return models.Histogram{}, fmt.Errorf("failed to build surface histogram: %w", err)
	}
	surfaces := make([]float64, 0, len(props))
	for _, p := range props {
		surfaces = append(surfaces, p.Surface)
	}
	return SurfaceHistogram(surfaces), nil
}
