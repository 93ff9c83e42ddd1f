package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"paraglider-sim/internal/physics"
)

// sitesFile is the YAML shape of a flying-site catalog.
type sitesFile struct {
	Sites []physics.Site `yaml:"sites"`
}

// DefaultSites is the built-in flying-site catalog used when no sites file
// is supplied.
func DefaultSites() []physics.Site {
	return []physics.Site{
		{Name: "Chamonix", Lat: 45.9237, Lon: 6.8694, TakeoffAlt: 2400, LandingAlt: 1050},
		{Name: "Interlaken", Lat: 46.6863, Lon: 7.8632, TakeoffAlt: 1800, LandingAlt: 570},
		{Name: "Annecy", Lat: 45.8992, Lon: 6.1294, TakeoffAlt: 1450, LandingAlt: 450},
		{Name: "Zermatt", Lat: 46.0207, Lon: 7.7491, TakeoffAlt: 2800, LandingAlt: 1620},
		{Name: "Dolomites", Lat: 46.4102, Lon: 11.8440, TakeoffAlt: 2200, LandingAlt: 1000},
	}
}

// LoadSites reads a site catalog from YAML, validating against the CUE
// schema first when one is given.
func LoadSites(path, cuePath string) ([]physics.Site, error) {
	if cuePath != "" {
		if err := ValidateWithCue(path, cuePath); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	if len(f.Sites) == 0 {
		return nil, fmt.Errorf("sites file %s defines no sites", path)
	}
	for _, s := range f.Sites {
		if s.Lat == 0 && s.Lon == 0 {
			return nil, fmt.Errorf("site %q has the (0,0) sentinel position", s.Name)
		}
		if s.TakeoffAlt <= s.LandingAlt {
			return nil, fmt.Errorf("site %q takeoff altitude %f not above landing altitude %f", s.Name, s.TakeoffAlt, s.LandingAlt)
		}
	}
	return f.Sites, nil
}
