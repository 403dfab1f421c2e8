package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trady/internal/exchange"
)

// EnvPrefix prefixes every environment override, e.g. TRADY__BINANCE__API_KEY.
const EnvPrefix = "TRADY__"

const (
	DefaultAPIURL                       = "https://fapi.binance.com/fapi"
	DefaultStreamURL                    = "wss://fstream.binance.com/ws"
	DefaultCandlesticksMaxNumber        = 1500
	DefaultCandlesticksIteratorThrottle = 200 * time.Millisecond
)

type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Store    StoreConfig    `yaml:"store"`
	Download DownloadConfig `yaml:"download"`
}

type BinanceConfig struct {
	APIURL                       string   `yaml:"api_url"`
	StreamURL                    string   `yaml:"stream_url"`
	APIKey                       string   `yaml:"api_key"`
	APISecret                    string   `yaml:"api_secret"`
	PrivateKeyPath               string   `yaml:"private_key_path"`
	CandlesticksMaxNumber        int      `yaml:"candlesticks_max_number"`
	CandlesticksIteratorThrottle Duration `yaml:"candlesticks_iterator_throttle"`
	RecvWindowMs                 int64    `yaml:"recv_window_ms"`
	HTTPTimeoutSec               int64    `yaml:"http_timeout_sec"`
}

type StoreConfig struct {
	Dir          string `yaml:"dir"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type DownloadConfig struct {
	BatchSize          int   `yaml:"batch_size"`
	RetryInitialMs     int64 `yaml:"retry_initial_ms"`
	RetryMaxElapsedSec int64 `yaml:"retry_max_elapsed_sec"`
}

// Settings returns the venue-independent part of the Binance configuration.
func (b BinanceConfig) Settings() exchange.Settings {
	return exchange.Settings{
		CandlesticksMaxNumber:        b.CandlesticksMaxNumber,
		CandlesticksIteratorThrottle: b.CandlesticksIteratorThrottle.Duration,
	}
}

// HasCredentials reports whether signed requests can be made, with either the HMAC
// secret or an Ed25519 key file.
func (b BinanceConfig) HasCredentials() bool {
	return b.APIKey != "" && (b.APISecret != "" || b.PrivateKeyPath != "")
}

// Load reads the optional YAML file at path, then applies .env and process environment
// overrides. Process environment wins over .env.
func Load(path string) (Config, error) {
	return LoadFrom(path, ".env", os.LookupEnv)
}

// LoadFrom is Load with an explicit .env path and environment lookup. Empty path or envFile
// skip that source; a missing envFile is ignored.
func LoadFrom(path, envFile string, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	dotenv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
		if values != nil {
			dotenv = values
		}
	}
	env := func(key string) (string, bool) {
		if lookup != nil {
			if v, ok := lookup(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("config must contain a single YAML document")
		}
		return err
	}
	return nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	strs := map[string]*string{
		"BINANCE__API_URL":          &c.Binance.APIURL,
		"BINANCE__STREAM_URL":       &c.Binance.StreamURL,
		"BINANCE__API_KEY":          &c.Binance.APIKey,
		"BINANCE__API_SECRET":       &c.Binance.APISecret,
		"BINANCE__PRIVATE_KEY_PATH": &c.Binance.PrivateKeyPath,
		"STORE__DIR":                &c.Store.Dir,
		"STORE__POSTGRES_DSN":       &c.Store.PostgresDSN,
	}
	for key, dst := range strs {
		if v, ok := env(EnvPrefix + key); ok {
			*dst = v
		}
	}
	ints := map[string]*int64{
		"BINANCE__RECV_WINDOW_MS":         &c.Binance.RecvWindowMs,
		"BINANCE__HTTP_TIMEOUT_SEC":       &c.Binance.HTTPTimeoutSec,
		"DOWNLOAD__RETRY_INITIAL_MS":      &c.Download.RetryInitialMs,
		"DOWNLOAD__RETRY_MAX_ELAPSED_SEC": &c.Download.RetryMaxElapsedSec,
	}
	for key, dst := range ints {
		if v, ok := env(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("%s%s must be an integer: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	if v, ok := env(EnvPrefix + "BINANCE__CANDLESTICKS_MAX_NUMBER"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sBINANCE__CANDLESTICKS_MAX_NUMBER must be an integer: %w", EnvPrefix, err)
		}
		c.Binance.CandlesticksMaxNumber = n
	}
	if v, ok := env(EnvPrefix + "BINANCE__CANDLESTICKS_ITERATOR_THROTTLE"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBINANCE__CANDLESTICKS_ITERATOR_THROTTLE %w", EnvPrefix, err)
		}
		c.Binance.CandlesticksIteratorThrottle = NewDuration(d)
	}
	return nil
}

func (c *Config) normalize() {
	c.Binance.APIURL = strings.TrimRight(strings.TrimSpace(c.Binance.APIURL), "/")
	c.Binance.StreamURL = strings.TrimRight(strings.TrimSpace(c.Binance.StreamURL), "/")
	c.Binance.APIKey = strings.TrimSpace(c.Binance.APIKey)
	c.Binance.APISecret = strings.TrimSpace(c.Binance.APISecret)
	c.Binance.PrivateKeyPath = strings.TrimSpace(c.Binance.PrivateKeyPath)
	c.Store.Dir = strings.TrimSpace(c.Store.Dir)
	c.Store.PostgresDSN = strings.TrimSpace(c.Store.PostgresDSN)
}

func (c *Config) applyDefaults() {
	if c.Binance.APIURL == "" {
		c.Binance.APIURL = DefaultAPIURL
	}
	if c.Binance.StreamURL == "" {
		c.Binance.StreamURL = DefaultStreamURL
	}
	if c.Binance.CandlesticksMaxNumber == 0 {
		c.Binance.CandlesticksMaxNumber = DefaultCandlesticksMaxNumber
	}
	if !c.Binance.CandlesticksIteratorThrottle.set {
		c.Binance.CandlesticksIteratorThrottle = NewDuration(DefaultCandlesticksIteratorThrottle)
	}
	if c.Binance.RecvWindowMs == 0 {
		c.Binance.RecvWindowMs = 5000
	}
	if c.Binance.HTTPTimeoutSec == 0 {
		c.Binance.HTTPTimeoutSec = 15
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "data"
	}
	if c.Store.LockTakeover == nil {
		enabled := true
		c.Store.LockTakeover = &enabled
	}
	if c.Store.LockStaleSec == 0 {
		c.Store.LockStaleSec = 600
	}
	if c.Download.BatchSize == 0 {
		c.Download.BatchSize = 500
	}
	if c.Download.RetryInitialMs == 0 {
		c.Download.RetryInitialMs = 500
	}
	if c.Download.RetryMaxElapsedSec == 0 {
		c.Download.RetryMaxElapsedSec = 300
	}
}

func (c Config) Validate() error {
	if err := c.Binance.Settings().Validate(); err != nil {
		return err
	}
	if err := validateURL(c.Binance.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("binance api_url %v", err)
	}
	if err := validateURL(c.Binance.StreamURL, "ws", "wss"); err != nil {
		return fmt.Errorf("binance stream_url %v", err)
	}
	if c.Binance.APIKey != "" && !c.Binance.HasCredentials() {
		return fmt.Errorf("binance api_key requires api_secret or private_key_path")
	}
	if c.Binance.APIKey == "" && (c.Binance.APISecret != "" || c.Binance.PrivateKeyPath != "") {
		return fmt.Errorf("binance api_secret and private_key_path require api_key")
	}
	if c.Binance.APISecret != "" && c.Binance.PrivateKeyPath != "" {
		return fmt.Errorf("binance api_secret and private_key_path are mutually exclusive")
	}
	if c.Binance.RecvWindowMs < 1 || c.Binance.RecvWindowMs > 60000 {
		return fmt.Errorf("binance recv_window_ms must be between 1 and 60000")
	}
	if c.Binance.HTTPTimeoutSec < 1 || c.Binance.HTTPTimeoutSec > 120 {
		return fmt.Errorf("binance http_timeout_sec must be between 1 and 120")
	}
	if c.Store.LockStaleSec < 0 || c.Store.LockStaleSec > 86400 {
		return fmt.Errorf("store.lock_stale_sec must be between 0 and 86400")
	}
	if c.Store.PostgresDSN != "" {
		if err := validateURL(c.Store.PostgresDSN, "postgres", "postgresql"); err != nil {
			return fmt.Errorf("store postgres_dsn %v", err)
		}
	}
	if c.Download.BatchSize < 1 {
		return fmt.Errorf("download.batch_size must be >= 1")
	}
	if c.Download.RetryInitialMs < 1 {
		return fmt.Errorf("download.retry_initial_ms must be >= 1")
	}
	if c.Download.RetryMaxElapsedSec < 0 {
		return fmt.Errorf("download.retry_max_elapsed_sec must be >= 0")
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
