package utils

import (
	"os"
	"strings"
)

// GetEnvironment returns ENVIRONMENT, defaulting to "development".
func GetEnvironment() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "" {
		return "development"
	}
	return env
}

func IsProd() bool {
	env := GetEnvironment()
	return env == "production" || env == "prod"
}

func IsDev() bool {
	env := GetEnvironment()
	return env == "development" || env == "dev"
}
