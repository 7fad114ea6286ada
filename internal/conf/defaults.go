// defaults.go: default values for the agent configuration.
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "")
	viper.SetDefault("main.datadir", "data")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/phonemanage.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("server.url", "http://localhost:18888/")
	viper.SetDefault("server.timeout", 30)

	viper.SetDefault("poll.interval", 60)
	viper.SetDefault("poll.sessioninterval", 5)
	viper.SetDefault("poll.failurethreshold", 5)
	viper.SetDefault("poll.maxinterval", 600)
	viper.SetDefault("poll.heartbeat", 900)

	viper.SetDefault("emergency.maxperday", 3)
	viper.SetDefault("emergency.resetoffset", 1)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "localhost:8090")
}
