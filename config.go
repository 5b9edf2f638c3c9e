package feewatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civicsignal/feewatch/internal/browser"
	"github.com/civicsignal/feewatch/schedule"
)

// Config is the top-level feewatch configuration.
type Config struct {
	// Engine selects the automation engine: headless | headful.
	Engine string `yaml:"engine"`

	// BrowserBin overrides the chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Timeout bounds each network operation. Default: 45s.
	Timeout time.Duration `yaml:"timeout"`

	// DelayMin/DelayMax bound the randomised pause between
	// jurisdictions. Defaults: 2s / 5s.
	DelayMin time.Duration `yaml:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max"`

	// Retries is the max attempts per acquisition. Default: 3.
	Retries int `yaml:"retries"`

	// RetryBackoff is the base backoff, doubled per attempt. Default: 2s.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// OCRTextThreshold is the native text length below which the OCR
	// fallback runs. Default: 100.
	OCRTextThreshold int `yaml:"ocr_text_threshold"`

	// OCREndpoint is the vision-OCR service URL. Empty disables OCR.
	OCREndpoint string `yaml:"ocr_endpoint"`

	// HistoryFile is the JSON history store. Default: data/history.json.
	HistoryFile string `yaml:"history_file"`

	// SnapshotDir receives per-run snapshot files. Default: data/runs.
	SnapshotDir string `yaml:"snapshot_dir"`

	// DocumentDir receives downloaded documents. Default: data/documents.
	DocumentDir string `yaml:"document_dir"`

	// AuditDB is the SQLite attempt-log path. Empty disables the log.
	AuditDB string `yaml:"audit_db"`

	// Listen is the status API address, e.g. ":8080". Empty disables it.
	Listen string `yaml:"listen"`

	// Targets lists the jurisdictions to monitor, in batch order.
	Targets []schedule.Target `yaml:"targets"`
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("feewatch: parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine == "" {
		c.Engine = string(browser.EngineHeadless)
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.DelayMin <= 0 {
		c.DelayMin = 2 * time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin + 3*time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.OCRTextThreshold <= 0 {
		c.OCRTextThreshold = 100
	}
	if c.HistoryFile == "" {
		c.HistoryFile = "data/history.json"
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "data/runs"
	}
	if c.DocumentDir == "" {
		c.DocumentDir = "data/documents"
	}
	for i := range c.Targets {
		if c.Targets[i].DocType == "" {
			c.Targets[i].DocType = "auto"
		}
		if c.Targets[i].Strategy == "" {
			c.Targets[i].Strategy = "browser"
		}
	}
}

func (c *Config) validate() error {
	if !browser.EngineKind(c.Engine).Valid() {
		return fmt.Errorf("feewatch: unknown engine %q", c.Engine)
	}
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.City == "" || t.URL == "" {
			return fmt.Errorf("feewatch: target needs city and url: %+v", t)
		}
		if seen[t.City] {
			return fmt.Errorf("feewatch: duplicate city %q", t.City)
		}
		seen[t.City] = true
		switch t.Strategy {
		case "browser", "http":
		default:
			return fmt.Errorf("feewatch: target %s: unknown strategy %q", t.City, t.Strategy)
		}
	}
	return nil
}
