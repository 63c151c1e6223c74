package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret using the *_FILE convention.
// envName+"_FILE" takes precedence and names a file holding the secret;
// otherwise the value of envName itself is returned (possibly empty).
func ResolveSecret(envName string) (string, error) {
	if envName == "" {
		return "", nil
	}
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// OBSPassword resolves the OBS websocket password named by obs.password_env.
func (c *Config) OBSPassword() (string, error) {
	return ResolveSecret(c.OBS.PasswordEnv)
}

// PostgresDSN builds a lib/pq connection string, resolving the password secret.
func (c *Config) PostgresDSN() (string, error) {
	pg := c.Storage.Postgres
	password, err := ResolveSecret(pg.PasswordEnv)
	if err != nil {
		return "", err
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Database, pg.SSLMode)
	if password != "" {
		dsn += " password=" + password
	}
	return dsn, nil
}
