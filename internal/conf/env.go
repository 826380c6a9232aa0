package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings lists the variables that get explicit validation.
// Every other key is still reachable through the POACHWATCH_ prefix.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"sources.baseurl", "POACHWATCH_SOURCES_BASEURL", validateEnvURL},
		{"sources.movement.interval", "POACHWATCH_SOURCES_MOVEMENT_INTERVAL", validateEnvPositiveDuration},
		{"sources.image.interval", "POACHWATCH_SOURCES_IMAGE_INTERVAL", validateEnvPositiveDuration},
		{"sources.positions.interval", "POACHWATCH_SOURCES_POSITIONS_INTERVAL", validateEnvPositiveDuration},
		{"fusion.correlation_window", "POACHWATCH_FUSION_CORRELATION_WINDOW", validateEnvNonNegativeDuration},
		{"fusion.min_image_probability", "POACHWATCH_FUSION_MIN_IMAGE_PROBABILITY", validateEnvProbability},
		{"alert.emit_cleared", "POACHWATCH_ALERT_EMIT_CLEARED", validateEnvBool},
		{"datastore.driver", "POACHWATCH_DATASTORE_DRIVER", validateEnvDriver},
		{"datastore.mysql.password", "POACHWATCH_DATASTORE_MYSQL_PASSWORD", nil},
		{"mqtt.password", "POACHWATCH_MQTT_PASSWORD", nil},
		{"mqtt.qos", "POACHWATCH_MQTT_QOS", validateEnvQoS},
		{"sentry.dsn", "SENTRY_DSN", nil},
	}
}

// configureEnvironmentVariables sets up environment variable support for v
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

// bindEnvVars binds and validates the explicit bindings, collecting every problem
func bindEnvVars(v *viper.Viper) error {
	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func validateEnvPositiveDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func validateEnvNonNegativeDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

func validateEnvProbability(value string) error {
	p, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("must be between 0.0 and 1.0, got %g", p)
	}
	return nil
}

func validateEnvDriver(value string) error {
	switch value {
	case DriverSQLite, DriverMySQL, DriverMemory:
		return nil
	default:
		return fmt.Errorf("must be one of %s, %s, %s", DriverSQLite, DriverMySQL, DriverMemory)
	}
}

func validateEnvQoS(value string) error {
	q, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if q < 0 || q > 2 {
		return fmt.Errorf("must be 0, 1 or 2, got %d", q)
	}
	return nil
}
