// Package config loads runtime configuration from the environment and the
// vendor roster from a YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the stockwatch binary.
type Config struct {
	// Panel credentials are only needed by the polling run, not by the
	// reporting server or maintenance commands.
	Email       string `env:"BIGARENA_EMAIL"`
	Password    string `env:"BIGARENA_PASSWORD"`
	BaseURL     string `env:"BIGARENA_BASE_URL,default=https://my.bigarena.net"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	VendorsFile string `env:"VENDORS_FILE,default=vendors.yaml"`
	LogDir      string `env:"LOG_DIR,default=logs"`

	Addr           string   `env:"ADDR,default=:8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`

	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default=20s"`
	VendorPause time.Duration `env:"VENDOR_PAUSE,default=5s"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Vendor is one tracked storefront. All snapshot and sale state is scoped to
// its panel-assigned ID.
type Vendor struct {
	Name     string `yaml:"name"`
	VendorID int    `yaml:"vendor_id"`
	LogFile  string `yaml:"log_file"`
}

// Label names the vendor in logs, falling back to the numeric ID.
func (v Vendor) Label() string {
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("%d", v.VendorID)
}

// LoadVendors reads the vendor roster from a YAML file and validates it.
// Missing log_file entries default to <name>_sales_log.txt.
func LoadVendors(path string) ([]Vendor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vendors file: %w", err)
	}

	var doc struct {
		Vendors []Vendor `yaml:"vendors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vendors file: %w", err)
	}
	if len(doc.Vendors) == 0 {
		return nil, errors.New("vendors file lists no vendors")
	}

	seen := make(map[int]bool, len(doc.Vendors))
	for i := range doc.Vendors {
		v := &doc.Vendors[i]
		if v.VendorID <= 0 {
			return nil, fmt.Errorf("vendor %q: vendor_id must be positive", v.Name)
		}
		if seen[v.VendorID] {
			return nil, fmt.Errorf("duplicate vendor_id %d", v.VendorID)
		}
		seen[v.VendorID] = true

		if v.LogFile == "" {
			base := strings.ToLower(strings.ReplaceAll(v.Label(), " ", "_"))
			v.LogFile = base + "_sales_log.txt"
		}
	}

	return doc.Vendors, nil
}
