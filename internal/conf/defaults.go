package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers a default for every key so env overrides resolve during Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "Poachwatch")
	v.SetDefault("main.environment", "production")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.console.json", false)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/poachwatch.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("sources.baseurl", "http://localhost:8000/api")
	v.SetDefault("sources.timeout", 10*time.Second)
	v.SetDefault("sources.useragent", "poachwatch")
	v.SetDefault("sources.movement.enabled", true)
	v.SetDefault("sources.movement.path", "/xgb-results/")
	v.SetDefault("sources.movement.interval", 5*time.Second)
	v.SetDefault("sources.image.enabled", true)
	v.SetDefault("sources.image.path", "/image-results/")
	v.SetDefault("sources.image.interval", 5*time.Second)
	v.SetDefault("sources.positions.enabled", true)
	v.SetDefault("sources.positions.path", "/mapview/")
	v.SetDefault("sources.positions.interval", 15*time.Second)
	v.SetDefault("sources.positions.kinds", []string{"rhino", "elephant"})
	v.SetDefault("sources.validatepath", "/validate-poacher/")

	v.SetDefault("fusion.correlation_window", time.Duration(0))
	v.SetDefault("fusion.min_image_probability", 0.0)

	v.SetDefault("alert.emit_cleared", false)
	v.SetDefault("alert.history_limit", 20)
	v.SetDefault("alert.validation_dedup_ttl", 5*time.Minute)

	v.SetDefault("notification.admin.enabled", false)
	v.SetDefault("notification.admin.urls", []string{})
	v.SetDefault("notification.ranger.enabled", false)
	v.SetDefault("notification.ranger.urls", []string{})
	v.SetDefault("notification.ratelimit", 30)
	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("datastore.driver", "sqlite")
	v.SetDefault("datastore.slow_threshold", 200*time.Millisecond)
	v.SetDefault("datastore.sqlite.path", "poachwatch.db")
	v.SetDefault("datastore.mysql.host", "localhost")
	v.SetDefault("datastore.mysql.port", 3306)
	v.SetDefault("datastore.mysql.username", "")
	v.SetDefault("datastore.mysql.password", "")
	v.SetDefault("datastore.mysql.database", "poachwatch")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.metrics_path", "/metrics")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "poachwatch")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "poachwatch")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
