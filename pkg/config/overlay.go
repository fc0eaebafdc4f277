package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
)

// Overlay is the optional YAML file named by PAYGATE_CONFIG.
type Overlay struct {
	Payment payment.Requirements `yaml:"payment"`
}

// LoadOverlay reads and parses the overlay at path.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load overlay %q: %w", path, err)
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overlay %q: %w", path, err)
	}
	return &o, nil
}
