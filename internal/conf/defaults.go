// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("classifier.endpoint", "http://localhost:3005/detect")
	viper.SetDefault("classifier.timeout", "5s")

	viper.SetDefault("buffer.window", "30s")
	viper.SetDefault("buffer.fps", 10)

	viper.SetDefault("session.cooldown", "10s")
	viper.SetDefault("session.reapinterval", "5m")
	viper.SetDefault("session.idleretention", "5m")

	viper.SetDefault("clip.scratchdir", "tmp/clips")
	viper.SetDefault("clip.fps", 10)
	viper.SetDefault("clip.ffmpeg", "ffmpeg")

	viper.SetDefault("blob.dir", "clips")
	viper.SetDefault("blob.baseurl", "http://localhost:8080/clips")

	viper.SetDefault("store.path", "vigil.db")

	viper.SetDefault("reconcile.interval", "1m")
	viper.SetDefault("reconcile.abandonment", "24h")

	viper.SetDefault("ingest.classifytimeout", "5s")
	viper.SetDefault("ingest.verdictqueue", 4)

	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.timeout", "10s")
	viper.SetDefault("notify.telegram.token", "")
	viper.SetDefault("notify.telegram.chatid", "")
}
