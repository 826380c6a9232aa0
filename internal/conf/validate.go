package conf

import (
	"fmt"
	"strings"

	"github.com/poachwatch/poachwatch/internal/errors"
)

// Datastore drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Validate checks cross-field constraints and returns every violation at once.
func (s *Settings) Validate() error {
	var problems []string

	check := func(name string, src SourceSettings) {
		if src.Enabled && src.Interval <= 0 {
			problems = append(problems, fmt.Sprintf("sources.%s.interval must be positive", name))
		}
	}
	check("movement", s.Sources.Movement)
	check("image", s.Sources.Image)
	check("positions", s.Sources.Positions.SourceSettings)

	if s.Sources.Timeout <= 0 {
		problems = append(problems, "sources.timeout must be positive")
	}
	if s.Fusion.CorrelationWindow < 0 {
		problems = append(problems, "fusion.correlation_window must not be negative")
	}
	if s.Fusion.MinImageProbability < 0 || s.Fusion.MinImageProbability > 1 {
		problems = append(problems, "fusion.min_image_probability must be between 0 and 1")
	}
	if s.Alert.HistoryLimit <= 0 {
		problems = append(problems, "alert.history_limit must be positive")
	}

	switch s.Datastore.Driver {
	case DriverSQLite:
		if s.Datastore.SQLite.Path == "" {
			problems = append(problems, "datastore.sqlite.path is required")
		}
	case DriverMySQL:
		if s.Datastore.MySQL.Host == "" || s.Datastore.MySQL.Database == "" {
			problems = append(problems, "datastore.mysql.host and datastore.mysql.database are required")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown datastore.driver %q", s.Datastore.Driver))
	}

	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			problems = append(problems, "mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
			problems = append(problems, "mqtt.qos must be 0, 1 or 2")
		}
	}
	for role, push := range map[string]PushSettings{"admin": s.Notification.Admin, "ranger": s.Notification.Ranger} {
		if push.Enabled && len(push.URLs) == 0 {
			problems = append(problems, fmt.Sprintf("notification.%s.urls is required when push is enabled", role))
		}
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		problems = append(problems, "sentry.dsn is required when sentry is enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Context("problem_count", len(problems)).
		Build()
}
