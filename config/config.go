package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rapidaai/capture/pkg/connectors"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	RedisConfig   connectors.RedisConfig `mapstructure:"redis"`
	CaptureConfig CaptureConfig          `mapstructure:"capture" validate:"required"`

	// host media endpoint the acquirer negotiates surface streams against
	MediaHost string `mapstructure:"media_host" validate:"required"`
	// optional sound-isolation server (sam_server); empty disables the client
	IsolationHost string `mapstructure:"isolation_host"`
}

// CaptureConfig tunes the recording session and its persistence.
type CaptureConfig struct {
	// ChunkIntervalMs is the chunked recorder delivery interval.
	ChunkIntervalMs int `mapstructure:"chunk_interval_ms" validate:"required"`
	// InitialGraceMs is waited before the first negotiation attempt so a
	// just-released prior stream can propagate.
	InitialGraceMs int `mapstructure:"initial_grace_ms"`
	// ConflictGraceMs is waited before the single conflict retry.
	ConflictGraceMs int `mapstructure:"conflict_grace_ms"`
	// SnapshotBudgetBytes caps the serialized chunk snapshot; writes above it
	// fail with quota exceeded and recording continues in memory only.
	SnapshotBudgetBytes int `mapstructure:"snapshot_budget_bytes" validate:"required"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "capture-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9120)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("MEDIA_HOST", "http://localhost:9121")
	v.SetDefault("ISOLATION_HOST", "")

	v.SetDefault("REDIS__HOST", "")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DATABASE", 0)

	v.SetDefault("CAPTURE__CHUNK_INTERVAL_MS", 100)
	v.SetDefault("CAPTURE__INITIAL_GRACE_MS", 100)
	v.SetDefault("CAPTURE__CONFLICT_GRACE_MS", 500)
	v.SetDefault("CAPTURE__SNAPSHOT_BUDGET_BYTES", 8<<20)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
