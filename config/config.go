package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/failsafe-go/admission"
)

// EnvPrefix prefixes environment variables that override config values, such as ADMISSION_ENGINE_CPUTARGET.
const EnvPrefix = "ADMISSION"

// Config configures the admission daemon.
type Config struct {
	Server Server           `yaml:"server" mapstructure:"server"`
	Engine admission.Config `yaml:"engine" mapstructure:"engine"`
}

// Server configures the daemon's listeners and logging.
type Server struct {
	HTTPAddr string `yaml:"httpAddr" mapstructure:"httpAddr"`
	GRPCAddr string `yaml:"grpcAddr" mapstructure:"grpcAddr"`
	LogLevel string `yaml:"logLevel" mapstructure:"logLevel"`
}

// Default returns the default daemon config.
func Default() *Config {
	return &Config{
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
			LogLevel: "info",
		},
		Engine: admission.DefaultConfig(),
	}
}

// Load reads the config from the YAML file at path, with environment variable overrides. If path is empty, a file
// named admission.yaml is searched for in ./config and the working directory, and defaults are used if none is found.
// Invalid engine values are replaced by their defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("admission")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	config.Engine = config.Engine.WithDefaults()
	return &config, nil
}

// Marshal renders the config as YAML.
func Marshal(config *Config) ([]byte, error) {
	return yaml.Marshal(config)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.httpAddr", d.Server.HTTPAddr)
	v.SetDefault("server.grpcAddr", d.Server.GRPCAddr)
	v.SetDefault("server.logLevel", d.Server.LogLevel)

	e := d.Engine
	v.SetDefault("engine.windowTimeCycle", e.WindowTimeCycle)
	v.SetDefault("engine.windowRequestCycle", e.WindowRequestCycle)
	v.SetDefault("engine.gains.kp", e.Gains.Kp)
	v.SetDefault("engine.gains.ki", e.Gains.Ki)
	v.SetDefault("engine.gains.kd", e.Gains.Kd)
	v.SetDefault("engine.smoothingAlpha", e.SmoothingAlpha)
	v.SetDefault("engine.denoiserSize", e.DenoiserSize)
	v.SetDefault("engine.zThreshold", e.ZThreshold)
	v.SetDefault("engine.queueDelayTarget", e.QueueDelayTarget)
	v.SetDefault("engine.cpuTarget", e.CPUTarget)
	v.SetDefault("engine.errorRateTarget", e.ErrorRateTarget)
	v.SetDefault("engine.decreaseFactor", e.DecreaseFactor)
	v.SetDefault("engine.increaseStep", e.IncreaseStep)
	v.SetDefault("engine.minAdmitRate", e.MinAdmitRate)
	v.SetDefault("engine.retryBudget", e.RetryBudget)
	v.SetDefault("engine.retryBudgetTTL", e.RetryBudgetTTL)
}
