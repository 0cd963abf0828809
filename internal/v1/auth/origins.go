package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ludostacked/backend/internal/v1/logging"
)

func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: CORS_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
