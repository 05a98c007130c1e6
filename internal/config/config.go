package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	Listen      string `envconfig:"HIVE_LISTEN" default:"[::1]:50051"`
	LogPath     string `envconfig:"HIVE_LOG_PATH" default:""`

	// Session maintenance settings
	SessionIdleTimeout string `envconfig:"HIVE_SESSION_IDLE_TIMEOUT" default:"1h"`
	ReconcileInterval  string `envconfig:"HIVE_RECONCILE_INTERVAL" default:"5m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("HIVE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
