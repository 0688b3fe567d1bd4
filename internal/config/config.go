package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string

	SourceRoot string
	DestRoot   string
	TaskSpecs  string
	StatePath  string

	MismatchTolerance int
	MaxSkips          int
	KeypointThreshold float64
	KeypointAlpha     float64

	DFFBandLow     float64
	DFFBandHigh    float64
	DFFFilterOrder int
}

func Load() Config {
	return Config{
		Port:        envInt("NWBPACK_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("NWBPACK_API_TOKEN", ""),

		SourceRoot: envPath("NWBPACK_SOURCE_ROOT", "/data/sessions"),
		DestRoot:   envPath("NWBPACK_DEST_ROOT", "/data/nwb"),
		TaskSpecs:  envPath("NWBPACK_TASK_SPECS", ""),
		StatePath:  envPath("NWBPACK_STATE_PATH", "~/.nwbpack/batch-state.json"),

		MismatchTolerance: envInt("NWBPACK_MISMATCH_TOLERANCE", 0),
		MaxSkips:          envInt("NWBPACK_MAX_SKIPS", 1),
		KeypointThreshold: envFloat("NWBPACK_KEYPOINT_THRESHOLD", 0.2),
		KeypointAlpha:     envFloat("NWBPACK_KEYPOINT_ALPHA", 0),

		DFFBandLow:     envFloat("NWBPACK_DFF_BAND_LOW", 0.01),
		DFFBandHigh:    envFloat("NWBPACK_DFF_BAND_HIGH", 10),
		DFFFilterOrder: envInt("NWBPACK_DFF_FILTER_ORDER", 5),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envPath is envStr with a leading ~/ expanded to the home directory, so
// every consumer of the path sees the same location.
func envPath(key, fallback string) string {
	return ExpandHome(envStr(key, fallback))
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
