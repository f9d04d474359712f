package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath = "config/config.toml"
	ConfigFileName    = "config.toml"
	ServiceName       = "vc-verifier"
	ConfigExtension   = ".toml"
	EnvConfigPath     = "VC_VERIFIER_CONFIG_PATH"

	// DefaultSyncEndpoint is the base sync API; result uploads go to its
	// /verifications path.
	DefaultSyncEndpoint = "http://localhost:8080/api/sync"

	EnvironmentDev  = "dev"
	EnvironmentTest = "test"
	EnvironmentProd = "prod"
)

type VerifierConfig struct {
	conf.Version
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
}

// ServerConfig represents configurable properties for the HTTP server
type ServerConfig struct {
	Environment        string        `toml:"env" conf:"default:dev"`
	APIHost            string        `toml:"api_host" conf:"default:0.0.0.0:3000"`
	ReadTimeout        time.Duration `toml:"read_timeout" conf:"default:5s"`
	WriteTimeout       time.Duration `toml:"write_timeout" conf:"default:5s"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" conf:"default:5s"`
	LogLocation        string        `toml:"log_location"`
	LogLevel           string        `toml:"log_level" conf:"default:debug"`
	EnableAllowAllCORS bool          `toml:"enable_allow_all_cors" conf:"default:false"`
}

// ServicesConfig represents configurable properties for the components of the verifier
type ServicesConfig struct {
	// at present, a single storage provider serves all services
	StorageProvider string `toml:"storage"`
	StorageOption   any    `toml:"storage_option"`

	// Embed all service-specific configs here. The order matters: from which should be instantiated first, to last
	EncryptionConfig   EncryptionServiceConfig   `toml:"encryption,omitempty"`
	TrustConfig        TrustServiceConfig        `toml:"trust,omitempty"`
	VerificationConfig VerificationServiceConfig `toml:"verification,omitempty"`
	SyncConfig         SyncServiceConfig         `toml:"sync,omitempty"`
}

// BaseServiceConfig represents configurable properties for a specific component of the verifier.
// Can be wrapped and extended for any specific service config
type BaseServiceConfig struct {
	Name string `toml:"name"`
}

type EncryptionServiceConfig struct {
	*BaseServiceConfig
	// Passphrase the symmetric result-encryption key is derived from. The
	// passphrase is salted before usage; an empty value means a random
	// per-process key.
	Passphrase string `toml:"passphrase"`
}

func (e *EncryptionServiceConfig) IsEmpty() bool {
	if e == nil {
		return true
	}
	return reflect.DeepEqual(e, &EncryptionServiceConfig{})
}

type TrustServiceConfig struct {
	*BaseServiceConfig
	RevocationCacheTTLHours int `toml:"revocation_cache_ttl_hours"`
	SweepIntervalMinutes    int `toml:"sweep_interval_minutes"`
}

func (t *TrustServiceConfig) IsEmpty() bool {
	if t == nil {
		return true
	}
	return reflect.DeepEqual(t, &TrustServiceConfig{})
}

type VerificationServiceConfig struct {
	*BaseServiceConfig
	// RevocationPolicy decides unknown revocation status: "allow" or "deny"
	RevocationPolicy  string `toml:"revocation_policy"`
	MaxStorageEntries int    `toml:"max_storage_entries"`
}

func (v *VerificationServiceConfig) IsEmpty() bool {
	if v == nil {
		return true
	}
	return reflect.DeepEqual(v, &VerificationServiceConfig{})
}

type SyncServiceConfig struct {
	*BaseServiceConfig
	SyncEndpoint          string `toml:"sync_endpoint"`
	AutoSync              bool   `toml:"auto_sync"`
	FlushIntervalSeconds  int    `toml:"flush_interval_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

func (s *SyncServiceConfig) IsEmpty() bool {
	if s == nil {
		return true
	}
	return reflect.DeepEqual(s, &SyncServiceConfig{})
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce it into our object model.
// Before loading, defaults are applied on certain properties, which are overwritten if specified in the TOML file.
func LoadConfig(path string) (*VerifierConfig, error) {
	// no path, load default config
	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepath.Ext(path) != ConfigExtension {
		return nil, fmt.Errorf("path<%s> did not match the expected TOML format", path)
	}

	// create the config object
	var config VerifierConfig

	// parse and apply defaults
	if err := conf.Parse(os.Args[1:], ServiceName, &config); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(ServiceName, &config)
			if err != nil {
				return nil, errors.Wrap(err, "parsing config")
			}
			fmt.Println(usage)
			return nil, nil

		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(ServiceName, &config)
			if err != nil {
				return nil, errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil, nil
		}

		return nil, errors.Wrap(err, "parsing config")
	}

	if defaultConfig {
		config.Services = defaultServicesConfig()
	} else {
		// load from TOML file
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, errors.Wrapf(err, "could not load config: %s", path)
		}
		applyServiceDefaults(&config.Services)
	}

	return &config, nil
}

func defaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		StorageProvider: "bolt",
		EncryptionConfig: EncryptionServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "encryption"},
		},
		TrustConfig: TrustServiceConfig{
			BaseServiceConfig:       &BaseServiceConfig{Name: "trust"},
			RevocationCacheTTLHours: 168,
			SweepIntervalMinutes:    60,
		},
		VerificationConfig: VerificationServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "verification"},
			RevocationPolicy:  "allow",
			MaxStorageEntries: 1000,
		},
		SyncConfig: SyncServiceConfig{
			BaseServiceConfig:     &BaseServiceConfig{Name: "sync"},
			SyncEndpoint:          DefaultSyncEndpoint,
			AutoSync:              true,
			FlushIntervalSeconds:  30,
			RequestTimeoutSeconds: 30,
		},
	}
}

// applyServiceDefaults fills properties a TOML file left out
func applyServiceDefaults(services *ServicesConfig) {
	if services.StorageProvider == "" {
		services.StorageProvider = "bolt"
	}
	if services.TrustConfig.RevocationCacheTTLHours <= 0 {
		services.TrustConfig.RevocationCacheTTLHours = 168
	}
	if services.TrustConfig.SweepIntervalMinutes <= 0 {
		services.TrustConfig.SweepIntervalMinutes = 60
	}
	if services.VerificationConfig.RevocationPolicy == "" {
		services.VerificationConfig.RevocationPolicy = "allow"
	}
	if services.VerificationConfig.MaxStorageEntries <= 0 {
		services.VerificationConfig.MaxStorageEntries = 1000
	}
	if services.SyncConfig.SyncEndpoint == "" {
		services.SyncConfig.SyncEndpoint = DefaultSyncEndpoint
	}
	if services.SyncConfig.FlushIntervalSeconds <= 0 {
		services.SyncConfig.FlushIntervalSeconds = 30
	}
	if services.SyncConfig.RequestTimeoutSeconds <= 0 {
		services.SyncConfig.RequestTimeoutSeconds = 30
	}
}
