package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Jira struct {
		BaseURL    string  `yaml:"base_url"`
		Email      string  `yaml:"email"`
		APIToken   string  `yaml:"api_token"`
		FetchSize  int     `yaml:"fetch_size"`
		MaxRetries int     `yaml:"max_retries"`
		RateLimit  float64 `yaml:"rate_limit"`
	} `yaml:"jira"`

	Export struct {
		OutputDir           string `yaml:"output_dir"`
		SegmentSizeMB       int64  `yaml:"segment_size_mb"`
		DeleteAfterDownload *bool  `yaml:"delete_after_download"`
	} `yaml:"export"`

	Queue struct {
		Workers           int      `yaml:"workers"`
		DispatchDelay     Duration `yaml:"dispatch_delay"`
		Retention         Duration `yaml:"retention"`
		SweepInterval     Duration `yaml:"sweep_interval"`
		KeepAliveInterval Duration `yaml:"keepalive_interval"`
	} `yaml:"queue"`

	Storage struct {
		Backend string `yaml:"backend"` // "local" or "s3"
		S3      struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Region    string `yaml:"region"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cfg Config
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Jira.FetchSize == 0 {
		c.Jira.FetchSize = 50
	}
	if c.Jira.MaxRetries == 0 {
		c.Jira.MaxRetries = 3
	}
	if c.Jira.RateLimit == 0 {
		c.Jira.RateLimit = 10
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "archives"
	}
	if c.Export.SegmentSizeMB == 0 {
		c.Export.SegmentSizeMB = 50
	}
	if c.Export.DeleteAfterDownload == nil {
		t := true
		c.Export.DeleteAfterDownload = &t
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.DispatchDelay == 0 {
		c.Queue.DispatchDelay = Duration(time.Second)
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = Duration(time.Hour)
	}
	if c.Queue.SweepInterval == 0 {
		c.Queue.SweepInterval = Duration(10 * time.Minute)
	}
	if c.Queue.KeepAliveInterval == 0 {
		c.Queue.KeepAliveInterval = Duration(15 * time.Second)
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Store.Path == "" {
		c.Store.Path = "jobs.db"
	}
}

func (c *Config) Validate() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if c.Jira.Email == "" {
		return fmt.Errorf("jira.email is required")
	}
	if c.Jira.APIToken == "" {
		return fmt.Errorf("jira.api_token is required")
	}
	if c.Export.SegmentSizeMB < 0 {
		return fmt.Errorf("export.segment_size_mb must be positive")
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", "local", "s3")
	}
	return nil
}

// SegmentSizeBytes returns the configured segment size limit in bytes.
func (c *Config) SegmentSizeBytes() int64 {
	return c.Export.SegmentSizeMB * 1024 * 1024
}

// DeleteAfterDownload reports whether segment archives are removed after
// their first successful retrieval.
func (c *Config) DeleteAfterDownload() bool {
	return c.Export.DeleteAfterDownload == nil || *c.Export.DeleteAfterDownload
}
