// Package config holds the settings read by the engines at the start of
// every operation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DICOMNODE_"

// Settings are the values consumed by the session, query, retrieve and
// send engines and by the job manager.
type Settings struct {
	LocalAETitle      string
	ListenPort        int
	ConnectionTimeout time.Duration
	MaxPDULength      uint32
	StorageDir        string
	MinFreeSpaceMB    uint64
	Workers           int
	LogFile           string
	LogLevel          string
	DeviceDatabase    string
}

// fileSettings is the HCL shape of Settings. Durations are written as
// strings ("30s").
type fileSettings struct {
	LocalAETitle      string `hcl:"local_ae_title"`
	ListenPort        *int   `hcl:"listen_port"`
	ConnectionTimeout string `hcl:"connection_timeout"`
	MaxPDULength      int    `hcl:"max_pdu_length"`
	StorageDir        string `hcl:"storage_dir"`
	MinFreeSpaceMB    *int   `hcl:"min_free_space_mb"`
	Workers           int    `hcl:"workers"`
	LogFile           string `hcl:"log_file"`
	LogLevel          string `hcl:"log_level"`
	DeviceDatabase    string `hcl:"device_database"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		LocalAETitle:      "DICOMNODE",
		ListenPort:        11113,
		ConnectionTimeout: 30 * time.Second,
		MaxPDULength:      16384,
		StorageDir:        "storage",
		MinFreeSpaceMB:    500,
		Workers:           4,
		LogLevel:          "info",
		DeviceDatabase:    "devices.db",
	}
}

// Load reads the HCL file at cfgPath (skipped when empty), loads a .env
// file if one exists and applies DICOMNODE_* environment overrides.
func Load(cfgPath string) (Settings, error) {
	cfg := Default()

	if cfgPath != "" {
		loaded, err := loadFile(cfgPath)
		if err != nil {
			return Settings{}, err
		}
		cfg, err = cfg.merge(loaded)
		if err != nil {
			return Settings{}, err
		}
	}

	_ = godotenv.Load() // a missing .env is not an error

	cfg, err := cfg.applyEnv(os.Getenv)
	if err != nil {
		return Settings{}, err
	}
	return cfg, cfg.Validate()
}

func loadFile(cfgPath string) (*fileSettings, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file failed")
	}
	fs := new(fileSettings)
	if err := hcl.Decode(fs, string(data)); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s failed", cfgPath)
	}
	return fs, nil
}

// merge overlays the values set in the file.
func (s Settings) merge(other *fileSettings) (Settings, error) {
	result := s
	if other.LocalAETitle != "" {
		result.LocalAETitle = other.LocalAETitle
	}
	if other.ListenPort != nil {
		result.ListenPort = *other.ListenPort
	}
	if other.ConnectionTimeout != "" {
		d, err := time.ParseDuration(other.ConnectionTimeout)
		if err != nil {
			return Settings{}, errors.Wrap(err, "connection_timeout")
		}
		result.ConnectionTimeout = d
	}
	if other.MaxPDULength > 0 {
		result.MaxPDULength = uint32(other.MaxPDULength)
	}
	if other.StorageDir != "" {
		result.StorageDir = other.StorageDir
	}
	if other.MinFreeSpaceMB != nil {
		if *other.MinFreeSpaceMB < 0 {
			return Settings{}, errors.Errorf("min_free_space_mb %d is negative", *other.MinFreeSpaceMB)
		}
		result.MinFreeSpaceMB = uint64(*other.MinFreeSpaceMB)
	}
	if other.Workers > 0 {
		result.Workers = other.Workers
	}
	if other.LogFile != "" {
		result.LogFile = other.LogFile
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.DeviceDatabase != "" {
		result.DeviceDatabase = other.DeviceDatabase
	}
	return result, nil
}

func (s Settings) applyEnv(getenv func(string) string) (Settings, error) {
	result := s
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, set func(uint64)) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
		set(n)
		return nil
	}

	str("LOCAL_AE_TITLE", &result.LocalAETitle)
	str("STORAGE_DIR", &result.StorageDir)
	str("LOG_FILE", &result.LogFile)
	str("LOG_LEVEL", &result.LogLevel)
	str("DEVICE_DATABASE", &result.DeviceDatabase)

	if err := num("LISTEN_PORT", func(n uint64) { result.ListenPort = int(n) }); err != nil {
		return Settings{}, err
	}
	if err := num("MAX_PDU_LENGTH", func(n uint64) { result.MaxPDULength = uint32(n) }); err != nil {
		return Settings{}, err
	}
	if err := num("MIN_FREE_SPACE_MB", func(n uint64) { result.MinFreeSpaceMB = n }); err != nil {
		return Settings{}, err
	}
	if err := num("WORKERS", func(n uint64) { result.Workers = int(n) }); err != nil {
		return Settings{}, err
	}
	if v := getenv(EnvPrefix + "CONNECTION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "%sCONNECTION_TIMEOUT", EnvPrefix)
		}
		result.ConnectionTimeout = d
	}
	return result, nil
}

// Validate reports the first invalid value.
func (s Settings) Validate() error {
	switch {
	case s.LocalAETitle == "" || len(s.LocalAETitle) > 16:
		return errors.Errorf("local AE title %q must be 1-16 characters", s.LocalAETitle)
	case s.ListenPort < 0 || s.ListenPort > 65535:
		return errors.Errorf("listen port %d out of range", s.ListenPort)
	case s.ConnectionTimeout <= 0:
		return errors.New("connection timeout must be positive")
	case s.Workers < 1:
		return errors.Errorf("workers must be at least 1, got %d", s.Workers)
	case s.StorageDir == "":
		return errors.New("storage directory is required")
	}
	return nil
}
