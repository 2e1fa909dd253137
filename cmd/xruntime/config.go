// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/z5labs/xruntime/pkg/otelconfig"
	"github.com/z5labs/xruntime/pkg/otelslog"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//go:embed config.yaml
var defaultConfig []byte

// EnvPrefix prefixes every environment variable override,
// e.g. XRUNTIME_HTTP_PORT for http.port.
const EnvPrefix = "XRUNTIME"

// Config is the configuration shared by every xruntime command.
type Config struct {
	HTTP struct {
		Port   uint          `mapstructure:"port"`
		Suffix string        `mapstructure:"suffix"`
		Delay  time.Duration `mapstructure:"delay"`
	} `mapstructure:"http"`

	GRPC struct {
		Port   uint   `mapstructure:"port"`
		Suffix string `mapstructure:"suffix"`
	} `mapstructure:"grpc"`

	OTel otelconfig.Config `mapstructure:"otel"`

	Logging LoggingConfig `mapstructure:"logging"`

	Probe struct {
		URL     string        `mapstructure:"url"`
		Count   int           `mapstructure:"count"`
		Timeout time.Duration `mapstructure:"timeout"`
		Retries int           `mapstructure:"retries"`
		Suffix  string        `mapstructure:"suffix"`
	} `mapstructure:"probe"`
}

// LoggingConfig selects the minimum log level and the output format.
type LoggingConfig struct {
	Level  slog.Level `mapstructure:"level"`
	Format string     `mapstructure:"format"`
}

// ConfigReadError is returned when a config file cannot be read or parsed.
type ConfigReadError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError is returned when config values do not fit [Config].
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig layers, in increasing precedence, the embedded defaults,
// the file at path if given, environment variables and bound flags.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	var cfg Config

	err := v.ReadConfig(bytes.NewReader(defaultConfig))
	if err != nil {
		return cfg, ConfigReadError{Path: "defaults", Cause: err}
	}
	if path != "" {
		v.SetConfigFile(path)
		err = v.MergeInConfig()
		if err != nil {
			return cfg, ConfigReadError{Path: path, Cause: err}
		}
	}

	err = v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return cfg, ConfigUnmarshalError{Cause: err}
	}
	return cfg, nil
}

func newLogHandler(cfg LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.Level,
	}
	var h slog.Handler
	switch cfg.Format {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return otelslog.NewHandler(h)
}

func newZapLogger(cfg LoggingConfig, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "text":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zapLevel(cfg.Level)))
}

func zapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zapcore.DebugLevel
	case lvl < slog.LevelWarn:
		return zapcore.InfoLevel
	case lvl < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
