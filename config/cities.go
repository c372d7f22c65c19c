package config

import "strings"

// City is a market the frontend map can center on.
type City struct {
	Name      string    `json:"name" yaml:"name"`
	Center    []float64 `json:"center" yaml:"center"`
	ZoomLevel int       `json:"zoom_level" yaml:"zoom_level"`
}

// DefaultCities is used when the config file lists none.
var DefaultCities = []City{
	{
		Name:      "Paris",
		Center:    []float64{48.8566, 2.3522},
		ZoomLevel: 12,
	},
	{
		Name:      "Lyon",
		Center:    []float64{45.7640, 4.8357},
		ZoomLevel: 13,
	},
}

// NormalizeCity trims and collapses whitespace in a city name.
func NormalizeCity(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// GetCityNames returns the configured city names
func (c *Config) GetCityNames() []string {
	names := make([]string, len(c.Cities))
	for i, city := range c.Cities {
		names[i] = city.Name
	}
	return names
}

// GetCityByName looks a city up case-insensitively.
func (c *Config) GetCityByName(name string) *City {
	name = NormalizeCity(name)
	for i := range c.Cities {
		if strings.EqualFold(c.Cities[i].Name, name) {
			return &c.Cities[i]
		}
	}
	return nil
}
