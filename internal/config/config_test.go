package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVendorsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadVendors(t *testing.T) {
	path := writeVendorsFile(t, `
vendors:
  - name: WhiteMe
    vendor_id: 192
    log_file: whiteme_sales_log_detailed.txt
  - name: AirWays
    vendor_id: 419
  - vendor_id: 426
`)

	vendors, err := LoadVendors(path)
	require.NoError(t, err)
	require.Len(t, vendors, 3)

	assert.Equal(t, "whiteme_sales_log_detailed.txt", vendors[0].LogFile)
	assert.Equal(t, "WhiteMe", vendors[0].Label())

	// Missing log_file defaults from the label.
	assert.Equal(t, "airways_sales_log.txt", vendors[1].LogFile)

	// Nameless vendors fall back to the numeric ID everywhere.
	assert.Equal(t, "426", vendors[2].Label())
	assert.Equal(t, "426_sales_log.txt", vendors[2].LogFile)
}

func TestLoadVendorsValidation(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "empty roster",
			contents: "vendors: []\n",
			wantErr:  "no vendors",
		},
		{
			name: "non-positive id",
			contents: `
vendors:
  - name: Broken
    vendor_id: 0
`,
			wantErr: "must be positive",
		},
		{
			name: "duplicate id",
			contents: `
vendors:
  - name: One
    vendor_id: 5
  - name: Two
    vendor_id: 5
`,
			wantErr: "duplicate vendor_id",
		},
		{
			name:     "invalid yaml",
			contents: "vendors: [unclosed",
			wantErr:  "parse vendors file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadVendors(writeVendorsFile(t, tt.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadVendorsMissingFile(t *testing.T) {
	_, err := LoadVendors(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stockwatch")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://my.bigarena.net", cfg.BaseURL)
	assert.Equal(t, "vendors.yaml", cfg.VendorsFile)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Second, cfg.VendorPause)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load(context.Background())
	require.Error(t, err)
}
