package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFile   string          `mapstructure:"log_file"`
}

type PathsConfig struct {
	// ModelDir holds voice model packages (directories or .vvm archives).
	ModelDir string `mapstructure:"model_dir"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	Acceleration   string `mapstructure:"acceleration"`
	GPUPoolSize    int    `mapstructure:"gpu_pool_size"`
}

type SynthesisConfig struct {
	InterrogativeUpspeak bool `mapstructure:"interrogative_upspeak"`
	Workers              int  `mapstructure:"workers"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	// EnvFile is an optional dotenv file read before environment lookup.
	// Missing files are ignored.
	EnvFile  string
	Defaults Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models",
		},
		Runtime: RuntimeConfig{
			Threads:        0,
			InterOpThreads: 1,
			ORTLibraryPath: "",
			ORTVersion:     "",
			Acceleration:   AccelerationAuto,
			GPUPoolSize:    1,
		},
		Synthesis: SynthesisConfig{
			InterrogativeUpspeak: true,
			Workers:              2,
		},
		Server: ServerConfig{
			ListenAddr:      ":50021",
			Workers:         2,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
			MaxBodyBytes:    1 << 20,
		},
		LogLevel: "info",
		LogFile:  "",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory containing voice model packages")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count (0 = runtime default)")
	fs.Int("runtime-inter-op-threads", defaults.Runtime.InterOpThreads, "ONNX Runtime inter-op thread count")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("acceleration", defaults.Runtime.Acceleration, "Acceleration mode (auto|cpu|gpu)")
	fs.Int("gpu-pool-size", defaults.Runtime.GPUPoolSize, "Sessions per heavy operation when running on GPU")
	fs.Bool("interrogative-upspeak", defaults.Synthesis.InterrogativeUpspeak, "Raise pitch at the end of interrogative phrases")
	fs.Int("synthesis-workers", defaults.Synthesis.Workers, "Max concurrent synthesis calls in the async pool")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent HTTP synthesis requests")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("max-body-bytes", defaults.Server.MaxBodyBytes, "Maximum accepted request body size")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-file", defaults.LogFile, "Write logs to a rotated file instead of stderr")
}

func Load(opts LoadOptions) (Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("VVCORE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("ort-lib", "VVCORE_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("vvcore")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	acc, err := NormalizeAcceleration(cfg.Runtime.Acceleration)
	if err != nil {
		return Config{}, err
	}
	cfg.Runtime.Acceleration = acc

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.inter_op_threads", c.Runtime.InterOpThreads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.acceleration", c.Runtime.Acceleration)
	v.SetDefault("runtime.gpu_pool_size", c.Runtime.GPUPoolSize)
	v.SetDefault("synthesis.interrogative_upspeak", c.Synthesis.InterrogativeUpspeak)
	v.SetDefault("synthesis.workers", c.Synthesis.Workers)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_file", c.LogFile)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_dir", "paths-model-dir")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.inter_op_threads", "runtime-inter-op-threads")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("runtime.acceleration", "acceleration")
	v.RegisterAlias("runtime.gpu_pool_size", "gpu-pool-size")
	v.RegisterAlias("synthesis.interrogative_upspeak", "interrogative-upspeak")
	v.RegisterAlias("synthesis.workers", "synthesis-workers")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.workers", "workers")
	v.RegisterAlias("server.request_timeout", "request-timeout")
	v.RegisterAlias("server.shutdown_timeout", "shutdown-timeout")
	v.RegisterAlias("server.max_body_bytes", "max-body-bytes")
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("log_file", "log-file")
}
