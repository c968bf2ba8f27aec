package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupConfig controls the periodic database file backup.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// BackupInterval returns the time between backups.
func (b BackupConfig) BackupInterval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

// AuditConfig controls the monthly export and data retention.
type AuditConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ExportDir         string `yaml:"export_dir"`
	ExportOnStart     bool   `yaml:"export_on_start"`
	DataRetentionDays int    `yaml:"data_retention_days"`
}

// SheetsConfig controls the Google Sheets publisher.
type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
	OverridesSheet  string `yaml:"overrides_sheet"`
	AttemptsSheet   string `yaml:"attempts_sheet"`
}

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		APIKey string `yaml:"api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address    string `yaml:"address"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		SessionKey string `yaml:"session_key"`
	} `yaml:"redis"`

	Engine struct {
		SweepIntervalSeconds      int     `yaml:"sweep_interval_seconds"`
		MaxSessionAgeMinutes      int     `yaml:"max_session_age_minutes"`
		OverrideAttemptsPerMinute float64 `yaml:"override_attempts_per_minute"`
		OverrideAttemptsBurst     int     `yaml:"override_attempts_burst"`
	} `yaml:"engine"`

	Templates struct {
		Path          string `yaml:"path"`
		ReloadSeconds int    `yaml:"reload_seconds"`
	} `yaml:"templates"`

	Classroom struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"classroom"`

	Audit AuditConfig `yaml:"audit"`

	Backup BackupConfig `yaml:"backup"`

	Sheets SheetsConfig `yaml:"sheets"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/examgate.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SweepInterval returns how often expired sessions are swept.
func (c *Config) SweepInterval() time.Duration {
	if c.Engine.SweepIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Engine.SweepIntervalSeconds) * time.Second
}

// MaxSessionAge returns the cap on how long any attempt stays registered.
// Non-positive disables the cap.
func (c *Config) MaxSessionAge() time.Duration {
	if c.Engine.MaxSessionAgeMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Engine.MaxSessionAgeMinutes) * time.Minute
}

// TemplateReloadInterval returns how often templates.yaml is polled.
func (c *Config) TemplateReloadInterval() time.Duration {
	if c.Templates.ReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Templates.ReloadSeconds) * time.Second
}

// ClassroomCacheTTL returns how long platform classroom info is cached.
func (c *Config) ClassroomCacheTTL() time.Duration {
	if c.Classroom.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Classroom.CacheTTLSeconds) * time.Second
}

// LoadTemplates loads the window template catalog referenced by the config.
func (c *Config) LoadTemplates() (*TemplateCatalog, error) {
	return LoadTemplateCatalog(c.Templates.Path)
}
