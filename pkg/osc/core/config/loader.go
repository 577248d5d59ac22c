package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	Expander       EnvironmentExpander `optional:"true"`
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
}

// loadConfig layers defaults, embedded YAML (after ${VAR} expansion) and environment variables.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewInternalError(moduleName, "failed to expand environment placeholders", err)
	}

	// YAML is decoded on top of the defaults so keys absent from the file keep their default.
	cfg := NewConfig()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewValidationError(moduleName, "yaml", "failed to unmarshal embedded config: "+err.Error())
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewValidationError(moduleName, "env", "failed to load config from environment variables: "+err.Error())
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// LoadConfig loads configuration from an embedded file, a .env file and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// NewConfigProvider is an Fx provider that loads, validates and publishes *Config.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	GlobalConfig = cfg

	logger.SetFormat(cfg.Mysqler.System.Logging.Format)
	logger.SetLogLevel(cfg.Mysqler.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Mysqler.System.Logging.Level)

	if loc, err := time.LoadLocation(cfg.Mysqler.System.Timezone); err == nil {
		time.Local = loc
	} else {
		logger.Warnf("Config: unknown timezone %q, keeping %s", cfg.Mysqler.System.Timezone, time.Local)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func Validate(cfg *Config) error {
	m := &cfg.Mysqler
	switch m.Store.Type {
	case "sql", "memory":
	default:
		return exception.NewValidationErrorf(moduleName, "store.type", "unsupported store type %q", m.Store.Type)
	}
	switch m.Supervisor.Runner {
	case "local", "docker":
	default:
		return exception.NewValidationErrorf(moduleName, "supervisor.runner", "unsupported runner %q", m.Supervisor.Runner)
	}
	switch m.Metrics.Backend {
	case "prometheus", "otel", "none":
	default:
		return exception.NewValidationErrorf(moduleName, "metrics.backend", "unsupported metrics backend %q", m.Metrics.Backend)
	}
	if m.Supervisor.TailLines <= 0 {
		return exception.NewValidationError(moduleName, "supervisor.tail_lines", "tail_lines must be positive")
	}
	if m.Supervisor.GracePeriod <= 0 {
		return exception.NewValidationError(moduleName, "supervisor.grace_period", "grace_period must be positive")
	}
	if m.Command.Tool == "" {
		return exception.NewValidationError(moduleName, "command.tool", "tool must not be empty")
	}
	if err := checkExceptionClasses(m.Store.Retry.RetryableExceptions, "store.retry"); err != nil {
		return exception.NewValidationError(moduleName, "store.retry.retryable_exceptions", err.Error())
	}
	return nil
}

// checkExceptionClasses validates that every name is registered in the exception registry.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("%s configuration references unknown exception class: '%s'", configType, name)
		}
	}
	return nil
}

// loadStructFromEnv recursively overrides struct fields from environment variables named after
// their yaml tags, e.g. MYSQLER_SUPERVISOR_GRACE_PERIOD.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setField converts value to the field's kind. Durations accept Go duration syntax and
// string slices are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
