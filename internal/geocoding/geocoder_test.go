package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeocodeAddressUsesCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "12 rue de la Paix, 75002, Paris", r.URL.Query().Get("q"))
		assert.Equal(t, "fr", r.URL.Query().Get("countrycodes"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"lat":"48.8686","lon":"2.3314"}]`))
	}))
	defer server.Close()

	dir := t.TempDir()
	g := NewGeocoder(Config{BaseURL: server.URL, CountryCode: "fr", CacheDir: dir}, logrus.New())

	lat, lon, err := g.GeocodeAddress(context.Background(), "12 rue de la Paix", "75002", "Paris")
	require.NoError(t, err)
	assert.InDelta(t, 48.8686, lat, 1e-9)
	assert.InDelta(t, 2.3314, lon, 1e-9)

	_, _, err = g.GeocodeAddress(context.Background(), "12 rue de la Paix", "75002", "paris")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A fresh geocoder reads the persisted cache
	reloaded := NewGeocoder(Config{BaseURL: server.URL, CacheDir: dir}, logrus.New())
	lat, _, err = reloaded.GeocodeAddress(context.Background(), "12 rue de la Paix", "75002", "Paris")
	require.NoError(t, err)
	assert.InDelta(t, 48.8686, lat, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeocodeAddressNoResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g := NewGeocoder(Config{BaseURL: server.URL}, logrus.New())
	_, _, err := g.GeocodeAddress(context.Background(), "nowhere", "", "")
	assert.ErrorIs(t, err, ErrNoResult)

	_, _, err = g.GeocodeAddress(context.Background(), " ", "", "")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGeocodeAddressUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := NewGeocoder(Config{BaseURL: server.URL}, logrus.New())
	_, _, err := g.GeocodeAddress(context.Background(), "1 Main St", "", "Lyon")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
