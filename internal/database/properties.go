package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"immotech/server/internal/models"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// applyPropertyFilter adds the WHERE clauses for a property filter.
func applyPropertyFilter(q *gorm.DB, f models.PropertyFilter) *gorm.DB {
	if f.City != "" {
		if f.CityExact {
			q = q.Where("LOWER(location_city) = LOWER(?)", f.City)
		} else {
			pattern := "%" + likeEscaper.Replace(strings.ToLower(f.City)) + "%"
			q = q.Where(`LOWER(location_city) LIKE ? ESCAPE '\'`, pattern)
		}
	}
	if f.PropertyType != "" {
		q = q.Where("type = ?", f.PropertyType)
	}
	if f.TransactionType != "" {
		q = q.Where("transaction_type = ?", f.TransactionType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q
}

func (d *Database) InsertProperty(ctx context.Context, p *models.Property) error {
	if err := d.db.WithContext(ctx).Create(p).Error; err != nil {
		return backendErr("insert property", err)
	}
	return nil
}

func (d *Database) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var p models.Property
	if err := d.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, lookupErr("get property "+id, err)
	}
	return &p, nil
}

// UpdateProperty overwrites every column of an existing property.
func (d *Database) UpdateProperty(ctx context.Context, p *models.Property) error {
	res := d.db.WithContext(ctx).Model(&models.Property{}).Where("id = ?", p.ID).
		Select("*").Omit("id", "created_at", "created_by").Updates(p)
	if res.Error != nil {
		return backendErr("update property", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update property %s: %w", p.ID, models.ErrNotFound)
	}
	return nil
}

func (d *Database) DeleteProperty(ctx context.Context, id string) error {
	res := d.db.WithContext(ctx).Delete(&models.Property{}, "id = ?", id)
	if res.Error != nil {
		return backendErr("delete property", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete property %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// FindProperties returns matching properties, newest first.
func (d *Database) FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error) {
	var props []models.Property
	q := applyPropertyFilter(d.db.WithContext(ctx).Model(&models.Property{}), f)
	if err := q.Order("created_at DESC").Order("id DESC").Find(&props).Error; err != nil {
		return nil, backendErr("query properties", err)
	}

	if f.CreatedSince != nil {
		props = createdSince(props, *f.CreatedSince)
	}
	return props, nil
}

// UpsertProperties writes a batch in one transaction, replacing rows whose
// id already exists.
func (d *Database) UpsertProperties(ctx context.Context, props []*models.Property) error {
	if len(props) == 0 {
		return nil
	}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(props).Error
	})
	if err != nil {
		return backendErr("upsert properties", err)
	}
	return nil
}

// PriceTrend averages prices per creation month for properties created at
// or after since, oldest month first.
func (d *Database) PriceTrend(ctx context.Context, f models.PropertyFilter, since time.Time) ([]models.PricePoint, error) {
	var rows []models.Property
	q := applyPropertyFilter(d.db.WithContext(ctx).Model(&models.Property{}), f)
	err := q.Select("id", "price", "created_at").Where("created_at IS NOT NULL").Find(&rows).Error
	if err != nil {
		return nil, backendErr("aggregate price trend", err)
	}
	return GroupMonthly(createdSince(rows, since)), nil
}

type sqlTypeBreakdownRow struct {
	Type        string
	Count       int
	AvgPrice    float64
	AvgSurface  float64
	PricePerSqm *float64
}

// TypeBreakdown groups listings by property type, most common type first.
func (d *Database) TypeBreakdown(ctx context.Context, city string) ([]models.TypeBreakdown, error) {
	var rows []sqlTypeBreakdownRow
	q := d.db.WithContext(ctx).Model(&models.Property{}).Select(`
		type,
		COUNT(*) AS count,
		COALESCE(AVG(price), 0) AS avg_price,
		COALESCE(AVG(surface), 0) AS avg_surface,
		AVG(CASE WHEN surface > 0 THEN price / surface END) AS price_per_sqm
	`)
	if city != "" {
		q = q.Where("LOWER(location_city) = LOWER(?)", city)
	}
	if err := q.Group("type").Order("count DESC").Order("type ASC").Scan(&rows).Error; err != nil {
		return nil, backendErr("aggregate market analysis", err)
	}

	out := make([]models.TypeBreakdown, 0, len(rows))
	for _, r := range rows {
		b := models.TypeBreakdown{
			Type:           r.Type,
			Count:          r.Count,
			AveragePrice:   r.AvgPrice,
			AverageSurface: r.AvgSurface,
		}
		if r.PricePerSqm != nil {
			b.PricePerSqm = *r.PricePerSqm
		}
		out = append(out, b)
	}
	return out, nil
}

func createdSince(props []models.Property, since time.Time) []models.Property {
	out := props[:0]
	for _, p := range props {
		if p.CreatedAt != nil && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

// GroupMonthly buckets properties by (year, month) of creation and averages
// their prices. Properties without a creation date are ignored.
func GroupMonthly(props []models.Property) []models.PricePoint {
	type key struct{ year, month int }
	type acc struct {
		sum   float64
		count int
	}

	buckets := make(map[key]*acc)
	for _, p := range props {
		if p.CreatedAt == nil {
			continue
		}
		t := p.CreatedAt.UTC()
		k := key{t.Year(), int(t.Month())}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
		}
		a.sum += p.Price
		a.count++
	}

	points := make([]models.PricePoint, 0, len(buckets))
	for k, a := range buckets {
		points = append(points, models.PricePoint{
			Period:       PeriodLabel(k.year, k.month),
			Year:         k.year,
			Month:        k.month,
			AveragePrice: a.sum / float64(a.count),
			Count:        a.count,
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Year != points[j].Year {
			return points[i].Year < points[j].Year
		}
		return points[i].Month < points[j].Month
	})
	return points
}

// PeriodLabel formats a trend bucket as "month/year".
func PeriodLabel(year, month int) string {
	return fmt.Sprintf("%d/%d", month, year)
}
