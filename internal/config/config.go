package config

import (
	"os"
	"strconv"

	"battle-session/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath         string
	ServerPort     string
	LogLevel       string
	Difficulty     string
	MaxWaves       int
	HostOverrideID string
	ArtworkAPIURL  string
	ArtworkAPIKey  string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:         getEnv("DB_PATH", "battle.db"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Difficulty:     getEnv("DIFFICULTY", "normal"),
		MaxWaves:       getEnvInt("MAX_WAVES", constants.DefaultMaxWaves),
		HostOverrideID: getEnv("HOST_OVERRIDE_ID", ""),
		ArtworkAPIURL:  getEnv("ARTWORK_API_URL", ""),
		ArtworkAPIKey:  getEnv("ARTWORK_API_KEY", ""),
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("difficulty", cfg.Difficulty).
		Int("max_waves", cfg.MaxWaves).
		Bool("artwork_enabled", cfg.ArtworkAPIURL != "").
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

var Module = fx.Provide(Load)
