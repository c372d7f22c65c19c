package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	cacheFileName  = "geocode_cache.json"
	userAgent      = "Immotech Property Service/1.0"
)

// ErrNoResult is returned when the address could not be located.
var ErrNoResult = errors.New("no geocoding result")

// Config configures the Nominatim client.
type Config struct {
	BaseURL     string        `yaml:"base_url" env:"GEOCODER_BASE_URL"`
	CountryCode string        `yaml:"country_code" env:"GEOCODER_COUNTRY_CODE"`
	CacheDir    string        `yaml:"cache_dir" env:"GEOCODER_CACHE_DIR"`
	Timeout     time.Duration `yaml:"timeout" env:"GEOCODER_TIMEOUT"`
	// MinInterval spaces out upstream requests, as Nominatim's usage policy asks.
	MinInterval time.Duration `yaml:"min_interval" env:"GEOCODER_MIN_INTERVAL"`
}

type Geocoder struct {
	logger    *logrus.Logger
	cfg       Config
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client

	throttle sync.Mutex
	lastCall time.Time
}

func NewGeocoder(cfg Config, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	g := &Geocoder{
		logger: logger,
		cfg:    cfg,
		cache:  make(map[string][]float64),
		client: &http.Client{Timeout: cfg.Timeout},
	}

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) cacheFile() string {
	return filepath.Join(g.cfg.CacheDir, cacheFileName)
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(g.cacheFile())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}
	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

func (g *Geocoder) saveCache() {
	if g.cfg.CacheDir == "" {
		return
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		g.logger.WithError(err).Error("Failed to marshal geocode cache")
		return
	}

	if err := os.WriteFile(g.cacheFile(), data, 0644); err != nil {
		g.logger.WithError(err).Error("Failed to save geocode cache")
	}
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// GeocodeAddress resolves an address to latitude and longitude. Results are
// cached in memory and on disk.
func (g *Geocoder) GeocodeAddress(ctx context.Context, street, postalCode, city string) (float64, float64, error) {
	cacheKey := strings.ToLower(fmt.Sprintf("%s|%s|%s", street, postalCode, city))
	parts := []string{}
	for _, p := range []string{street, postalCode, city} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return 0, 0, fmt.Errorf("%w: empty address", ErrNoResult)
	}
	fullAddress := strings.Join(parts, ", ")

	g.cacheLock.RLock()
	coords, ok := g.cache[cacheKey]
	g.cacheLock.RUnlock()
	if ok && len(coords) == 2 {
		g.logger.WithFields(logrus.Fields{
			"address": fullAddress,
			"source":  "cache",
		}).Debug("Found coordinates in cache")
		return coords[0], coords[1], nil
	}

	if err := g.wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"q":      []string{fullAddress},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	if g.cfg.CountryCode != "" {
		params.Set("countrycodes", g.cfg.CountryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.cfg.BaseURL, "/")+"/search", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("address", fullAddress).Error("Geocoding request failed")
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		g.logger.WithError(err).WithField("address", fullAddress).Error("Failed to parse response")
		return 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		g.logger.WithField("address", fullAddress).Warn("No results found")
		return 0, 0, fmt.Errorf("%w for address: %s", ErrNoResult, fullAddress)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	g.logger.WithFields(logrus.Fields{
		"address":   fullAddress,
		"latitude":  lat,
		"longitude": lon,
		"source":    "nominatim",
	}).Info("Successfully geocoded address")

	g.cacheLock.Lock()
	g.cache[cacheKey] = []float64{lat, lon}
	g.cacheLock.Unlock()
	g.saveCache()

	return lat, lon, nil
}

// wait enforces MinInterval between upstream calls.
func (g *Geocoder) wait(ctx context.Context) error {
	g.throttle.Lock()
	defer g.throttle.Unlock()

	if delay := g.cfg.MinInterval - time.Since(g.lastCall); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastCall = time.Now()
	return nil
}
