package analytics

import (
	"math"
	"time"

	"immotech/server/internal/models"
)

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// RoundPrice rounds to cents.
func RoundPrice(v float64) float64 { return round(v, 2) }

// RoundRate rounds day counts and percentages to one decimal.
func RoundRate(v float64) float64 { return round(v, 1) }

// AveragePrice is the arithmetic mean of the prices, 0 for an empty set.
func AveragePrice(props []models.Property) float64 {
	if len(props) == 0 {
		return 0
	}
	var sum float64
	for _, p := range props {
		sum += p.Price
	}
	return sum / float64(len(props))
}

// PricePerSqm divides the average price by the average surface. It is 0
// when the total surface is 0.
func PricePerSqm(props []models.Property) float64 {
	if len(props) == 0 {
		return 0
	}
	var total float64
	for _, p := range props {
		total += p.Surface
	}
	if total == 0 {
		return 0
	}
	return AveragePrice(props) / (total / float64(len(props)))
}

// AverageTimeOnMarket is the mean number of whole days between creation and
// now. Properties without a creation date are skipped.
func AverageTimeOnMarket(props []models.Property, now time.Time) float64 {
	var days, n float64
	for _, p := range props {
		if p.CreatedAt == nil {
			continue
		}
		days += math.Floor(now.Sub(*p.CreatedAt).Hours() / 24)
		n++
	}
	if n == 0 {
		return 0
	}
	return days / n
}

// NegotiationRate is the percentage knocked off the listing price across
// sold properties.
func NegotiationRate(props []models.Property) float64 {
	var original, final float64
	for _, p := range props {
		if p.Status != models.StatusSold {
			continue
		}
		original += p.ListingPrice()
		final += p.Price
	}
	if original == 0 {
		return 0
	}
	return (original - final) / original * 100
}

type surfaceRange struct {
	label    string
	min, max float64
}

var marketBuckets = []surfaceRange{
	{"0-50", 0, 50},
	{"50-100", 50, 100},
	{"100-150", 100, 150},
	{"150-200", 150, 200},
	{"200-inf", 200, math.Inf(1)},
}

// SurfaceDistribution counts properties per half-open surface range. Every
// bucket is present, in ascending order, even when empty.
func SurfaceDistribution(props []models.Property) []models.SurfaceBucket {
	out := make([]models.SurfaceBucket, len(marketBuckets))
	for i, b := range marketBuckets {
		out[i] = models.SurfaceBucket{Label: b.label, Min: b.min}
		if !math.IsInf(b.max, 1) {
			max := b.max
			out[i].Max = &max
		}
	}

	for _, p := range props {
		if i := bucketIndex(marketBuckets, p.Surface); i >= 0 {
			out[i].Count++
		}
	}
	return out
}

var histogramBuckets = []surfaceRange{
	{"0-50m²", 0, 50},
	{"50-100m²", 50, 100},
	{"100-150m²", 100, 150},
	{"150-200m²", 150, 200},
	{"200-250m²", 200, 250},
	{"250-300m²", 250, 300},
	{"300m²+", 300, math.Inf(1)},
}

// SurfaceHistogram bins raw surfaces into seven 50m² bins for charting.
// Negative values are ignored and an empty input yields an empty histogram.
func SurfaceHistogram(surfaces []float64) models.Histogram {
	if len(surfaces) == 0 {
		return models.Histogram{Labels: []string{}, Data: []int{}}
	}

	h := models.Histogram{
		Labels: make([]string, len(histogramBuckets)),
		Data:   make([]int, len(histogramBuckets)),
	}
	for i, b := range histogramBuckets {
		h.Labels[i] = b.label
	}
	for _, s := range surfaces {
		if i := bucketIndex(histogramBuckets, s); i >= 0 {
			h.Data[i]++
		}
	}
	return h
}

func bucketIndex(buckets []surfaceRange, v float64) int {
	for i, b := range buckets {
		if v >= b.min && v < b.max {
			return i
		}
	}
	return -1
}
