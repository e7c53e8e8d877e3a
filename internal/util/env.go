package util

import (
	"os"
	"strconv"
	"strings"
)

// GetEnv returns the ENV variable value or the provided fallback.
func GetEnv(key string, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// GetEnvAsInt returns the ENV variable parsed as int or the provided fallback.
func GetEnvAsInt(key string, fallback int) int {
	strVal := GetEnv(key, "")

	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}

	return fallback
}

// GetEnvAsFloat64 returns the ENV variable parsed as float64 or the provided fallback.
func GetEnvAsFloat64(key string, fallback float64) float64 {
	strVal := GetEnv(key, "")

	if val, err := strconv.ParseFloat(strVal, 64); err == nil {
		return val
	}

	return fallback
}

// GetEnvAsBool returns the ENV variable parsed as bool or the provided fallback.
func GetEnvAsBool(key string, fallback bool) bool {
	strVal := GetEnv(key, "")

	if val, err := strconv.ParseBool(strVal); err == nil {
		return val
	}

	return fallback
}

// GetEnvAsStringArr returns the ENV variable split by separator (default ",")
// or the provided fallback. Empty elements are dropped.
func GetEnvAsStringArr(key string, fallback []string, separator ...string) []string {
	strVal := GetEnv(key, "")

	if strVal == "" {
		return fallback
	}

	sep := ","
	if len(separator) >= 1 {
		sep = separator[0]
	}

	parts := strings.Split(strVal, sep)
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}

	if len(res) == 0 {
		return fallback
	}

	return res
}
