package geometry

import (
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"immotech/server/internal/models"
)

// District collects the geolocated listings sharing a postal code.
type District struct {
	Code     string
	City     string
	Points   []orb.Point
	priceSum float64
	surface  float64
}

// GroupDistricts buckets geolocated properties by postal code. Properties
// without coordinates or postal code are skipped.
func GroupDistricts(props []models.Property) map[string]*District {
	districts := make(map[string]*District)
	for _, p := range props {
		pt, ok := p.Location.Point()
		if !ok || p.Location.PostalCode == "" {
			continue
		}
		d, ok := districts[p.Location.PostalCode]
		if !ok {
			d = &District{Code: p.Location.PostalCode, City: p.Location.City}
			districts[p.Location.PostalCode] = d
		}
		d.Points = append(d.Points, pt)
		d.priceSum += p.Price
		d.surface += p.Surface
	}
	return districts
}

// Feature renders the district as a convex hull polygon, or as a
// MultiPoint when fewer than three distinct points are known.
func (d *District) Feature() *geojson.Feature {
	var g orb.Geometry = orb.MultiPoint(d.Points)
	geometryType := "points"
	if hull := ConvexHull(d.Points); hull != nil {
		g = orb.Polygon{hull}
		geometryType = "hull"
	}

	count := len(d.Points)
	avg := d.priceSum / float64(count)
	perSqm := 0.0
	if d.surface > 0 {
		perSqm = d.priceSum / d.surface
	}

	f := geojson.NewFeature(g)
	f.Properties = geojson.Properties{
		"district":      d.Code,
		"city":          d.City,
		"point_count":   count,
		"average_price": avg,
		"price_per_sqm": perSqm,
		"geometry_type": geometryType,
	}
	return f
}

// DistrictMap builds a feature collection of every district, ordered by code.
func DistrictMap(props []models.Property, now time.Time) *geojson.FeatureCollection {
	districts := GroupDistricts(props)
	codes := make([]string, 0, len(districts))
	for code := range districts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	fc := geojson.NewFeatureCollection()
	for _, code := range codes {
		fc.Append(districts[code].Feature())
	}
	fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]interface{}{
			"generated": now.Format(time.RFC3339),
			"districts": len(codes),
		},
	}
	return fc
}

// ConvexHull returns the closed counter-clockwise hull of the points using
// Andrew's monotone chain, or nil when the points span no area.
func ConvexHull(points []orb.Point) orb.Ring {
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	// Dedupe
	uniq := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq
	if len(pts) < 3 {
		return nil
	}

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Collinear input collapses to a segment
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

// Match is a property found within a search radius.
type Match struct {
	Property   models.Property `json:"property"`
	DistanceKm float64         `json:"distance_km"`
}

// WithinRadius returns the geolocated properties at most radiusKm from
// center (lon, lat), closest first.
func WithinRadius(props []models.Property, center orb.Point, radiusKm float64) []Match {
	radius := radiusKm * 1000
	bound := geo.NewBoundAroundPoint(center, radius)

	matches := []Match{}
	for _, p := range props {
		pt, ok := p.Location.Point()
		if !ok || !bound.Contains(pt) {
			continue
		}
		if d := geo.DistanceHaversine(center, pt); d <= radius {
			matches = append(matches, Match{Property: p, DistanceKm: d / 1000})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}
