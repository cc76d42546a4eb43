package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetLogLevel() string
	GetDeviceType() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Session
	Storage
}

// New loads an optional .env file (or the files named in ENV_FILE) into the
// process environment and returns the environment backed configuration.
// Variables already set in the environment win over the file.
func New() Config {
	files := []string{}
	if f := os.Getenv("ENV_FILE"); f != "" {
		files = append(files, f)
	}
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: unable to load env file")
	}
	return mainConfig{}
}
