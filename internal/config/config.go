package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models fieldline.yml.
type Config struct {
	Inspector struct {
		ID string `yaml:"id"`
	} `yaml:"inspector"`
	Remote   RemoteConfig    `yaml:"remote"`
	Blob     BlobConfig      `yaml:"blob"`
	Retry    RetryConfig     `yaml:"retry"`
	Sync     SyncConfig      `yaml:"sync"`
	Network  NetworkConfig   `yaml:"network"`
	Workflow WorkflowConfig  `yaml:"workflow"`
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type BlobConfig struct {
	Driver         string `yaml:"driver"`
	Endpoint       string `yaml:"endpoint"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	UseSSL         bool   `yaml:"use_ssl"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	Prefix         string `yaml:"prefix"`
	PublicBaseURL  string `yaml:"public_base_url"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

type SyncConfig struct {
	UploadsPerSecond float64 `yaml:"uploads_per_second"`
	UploadBurst      int     `yaml:"upload_burst"`
	OnReconnect      bool    `yaml:"on_reconnect"`
}

type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type WorkflowConfig struct {
	RequireVideo bool `yaml:"require_video"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret"`
	DevLogin  bool   `yaml:"dev_login"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var blobDrivers = map[string]bool{"minio": true, "s3": true, "none": true}

// Load reads and validates config from workspace. A missing file yields defaults.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Remote.BaseURL != "" {
		if err := validURL(c.Remote.BaseURL); err != nil {
			return fmt.Errorf("config.remote.base_url: %w", err)
		}
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("config.remote.timeout must not be negative")
	}
	driver := strings.ToLower(c.Blob.Driver)
	if !blobDrivers[driver] {
		return fmt.Errorf("config.blob.driver must be one of minio, s3, none")
	}
	if driver != "none" {
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config.blob.bucket is required for driver %s", driver)
		}
		if driver == "minio" && c.Blob.Endpoint == "" {
			return fmt.Errorf("config.blob.endpoint is required for driver minio")
		}
		if c.Blob.PublicBaseURL == "" {
			return fmt.Errorf("config.blob.public_base_url is required for driver %s", driver)
		}
		if err := validURL(c.Blob.PublicBaseURL); err != nil {
			return fmt.Errorf("config.blob.public_base_url: %w", err)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("config.retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("config.retry.jitter must be in [0,1)")
	}
	if c.Sync.UploadsPerSecond < 0 || c.Sync.UploadBurst < 0 {
		return fmt.Errorf("config.sync rate settings must not be negative")
	}
	if c.Network.ProbeURL != "" {
		if err := validURL(c.Network.ProbeURL); err != nil {
			return fmt.Errorf("config.network.probe_url: %w", err)
		}
	}
	if c.Network.ProbeInterval < 0 || c.Network.ProbeTimeout < 0 {
		return fmt.Errorf("config.network durations must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if err := validURL(hook.URL); err != nil {
			return fmt.Errorf("config.webhooks[%d].url: %w", i, err)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent
// from the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const defaultTemplate = `inspector:
  id: local-inspector

remote:
  base_url: ""
  token: ""
  timeout: 15s

blob:
  driver: none
  endpoint: ""
  bucket: ""
  region: us-east-1
  use_ssl: true
  force_path_style: false
  prefix: ""
  public_base_url: ""

retry:
  max_attempts: 3
  base_delay: 500ms
  max_delay: 8s
  jitter: 0.2

sync:
  uploads_per_second: 2
  upload_burst: 1
  on_reconnect: true

network:
  probe_url: ""
  probe_interval: 15s
  probe_timeout: 5s

workflow:
  require_video: false

server:
  addr: 127.0.0.1:8790
  base_path: /v0
  jwt_secret: ""
  dev_login: false

log:
  level: info
  format: text
`
