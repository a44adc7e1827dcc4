package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the workspace when --config is not given.
const DefaultFile = "gamegate.yaml"

// Config holds all gamegate configuration.
type Config struct {
	// Contract verifier
	Verify VerifyConfig `yaml:"verify"`

	// Headless browser used by the runtime check
	Browser BrowserConfig `yaml:"browser"`

	// Upload API
	Server ServerConfig `yaml:"server"`

	// Artifact persistence for the upload API
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// VerifyConfig configures the contract verifier pipeline.
type VerifyConfig struct {
	MaxBytes            int64  `yaml:"max_bytes"`             // CLI cap for file_size
	SDKPath             string `yaml:"sdk_path"`              // empty = <candidate dir>/../public/maribro-sdk.js
	EntryFilename       string `yaml:"entry_filename"`        // name the candidate is served under
	SimulatedDuration   string `yaml:"simulated_duration"`    // countdown fed to getTimeRemainingMs
	SDKWaitTimeout      string `yaml:"sdk_wait_timeout"`      // wait for window.Maribro
	CompletionTimeout   string `yaml:"completion_timeout"`    // wait for endGame
	NavigationTimeout   string `yaml:"navigation_timeout"`    // page.Navigate bound
	RenderTextThreshold int    `yaml:"render_text_threshold"` // visible chars standing in for a canvas

	EnforceMultiplayerMarkers bool `yaml:"enforce_multiplayer_markers"`
	AllowNoRuntime            bool `yaml:"allow_no_runtime"`
	StrictRuntime             bool `yaml:"strict_runtime"`
}

// BrowserConfig configures the Chromium instance driven by go-rod.
type BrowserConfig struct {
	Bin            string   `yaml:"bin"`            // explicit browser binary
	Headless       bool     `yaml:"headless"`       // always true outside debugging
	NoSandbox      bool     `yaml:"no_sandbox"`     // containers / CI
	Flags          []string `yaml:"flags"`          // extra --flag[=value] entries
	AllowDownload  bool     `yaml:"allow_download"` // let the launcher fetch Chromium when none is installed
	ViewportWidth  int      `yaml:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height"`
}

// ServerConfig configures the upload API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	UploadToken    string   `yaml:"upload_token"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"` // upload-time cap for file_size
	GamesDir       string   `yaml:"games_dir"`
	PublicDir      string   `yaml:"public_dir"` // static files (SDK) served at /
	AvatarsPath    string   `yaml:"avatars_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConns       int      `yaml:"max_conns"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
}

// StorageConfig selects where uploaded games are persisted.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // dir, minio
	Minio   MinioConfig `yaml:"minio"`
}

// MinioConfig configures the S3-compatible backend.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Verify: VerifyConfig{
			MaxBytes:                  20 * 1024 * 1024,
			EntryFilename:             "game.html",
			SimulatedDuration:         "9s",
			SDKWaitTimeout:            "6s",
			CompletionTimeout:         "24s",
			NavigationTimeout:         "15s",
			RenderTextThreshold:       200,
			EnforceMultiplayerMarkers: true,
		},

		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},

		Server: ServerConfig{
			Addr:           ":8000",
			UploadToken:    "maribro-upload",
			MaxUploadBytes: 2 * 1024 * 1024,
			GamesDir:       "games",
			PublicDir:      "public",
			AvatarsPath:    "public/avatars/avatars.json",
			MaxConns:       64,
			ReadTimeout:    "15s",
			WriteTimeout:   "15s",
		},

		Storage: StorageConfig{
			Backend: "dir",
			Minio: MinioConfig{
				Bucket: "games",
				Region: "us-east-1",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults when there is no config file
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if token := strings.TrimSpace(os.Getenv("GAMEGATE_UPLOAD_TOKEN")); token != "" {
		c.Server.UploadToken = token
	}
	if bin := os.Getenv("GAMEGATE_BROWSER_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if path := os.Getenv("GAMEGATE_SDK_PATH"); path != "" {
		c.Verify.SDKPath = path
	}

	if v := os.Getenv("GAMEGATE_MINIO_ENDPOINT"); v != "" {
		c.Storage.Minio.Endpoint = v
	}
	if v := os.Getenv("GAMEGATE_MINIO_ACCESS_KEY"); v != "" {
		c.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("GAMEGATE_MINIO_SECRET_KEY"); v != "" {
		c.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("GAMEGATE_MINIO_BUCKET"); v != "" {
		c.Storage.Minio.Bucket = v
	}
}

// ValidBackends lists the supported storage backends.
var ValidBackends = []string{"dir", "minio"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Verify.MaxBytes <= 0 {
		return fmt.Errorf("verify.max_bytes must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}
	if strings.TrimSpace(c.Verify.EntryFilename) == "" || strings.ContainsAny(c.Verify.EntryFilename, `/\`) {
		return fmt.Errorf("verify.entry_filename must be a bare file name, got %q", c.Verify.EntryFilename)
	}
	if c.GetCompletionTimeout() <= c.GetSimulatedDuration() {
		return fmt.Errorf("verify.completion_timeout (%s) must exceed verify.simulated_duration (%s)",
			c.GetCompletionTimeout(), c.GetSimulatedDuration())
	}

	validBackend := false
	for _, b := range ValidBackends {
		if c.Storage.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidBackends)
	}
	if c.Storage.Backend == "minio" && c.Storage.Minio.Endpoint == "" {
		return fmt.Errorf("storage.minio.endpoint is required for the minio backend")
	}

	return nil
}

// GetSimulatedDuration returns the simulated play time as a duration.
func (c *Config) GetSimulatedDuration() time.Duration {
	return parseDuration(c.Verify.SimulatedDuration, 9*time.Second)
}

// GetSDKWaitTimeout returns how long to wait for the SDK global.
func (c *Config) GetSDKWaitTimeout() time.Duration {
	return parseDuration(c.Verify.SDKWaitTimeout, 6*time.Second)
}

// GetCompletionTimeout returns how long to wait for endGame.
func (c *Config) GetCompletionTimeout() time.Duration {
	return parseDuration(c.Verify.CompletionTimeout, 24*time.Second)
}

// GetNavigationTimeout returns the navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Verify.NavigationTimeout, 15*time.Second)
}

// GetReadTimeout returns the upload API read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the upload API write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 15*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
