// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the quill client.
type Config struct {
	// ServerURL is the base URL of the report service.
	ServerURL string
	// Token is the bearer token presented on connect.
	Token string
	// QuillHome is the directory where quill stores local state.
	QuillHome string
	// MaxDecoderBuffer caps the decoder's unresolved buffer, in bytes.
	// Zero selects the decoder default.
	MaxDecoderBuffer int
	// Debug enables verbose logging.
	Debug bool
	// LogFile is an optional path for rotated file logs.
	LogFile string
}

// Load reads configuration from the environment (and a .env file when
// present) and applies defaults.
func Load() (*Config, error) {
	// A missing .env is not an error; the environment stands on its own.
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	quillHome := os.Getenv("QUILL_HOME_DIR")
	if quillHome == "" {
		quillHome = filepath.Join(homeDir, ".quill")
	}
	if err := os.MkdirAll(quillHome, 0700); err != nil {
		return nil, fmt.Errorf("create quill home: %w", err)
	}

	serverURL := os.Getenv("QUILL_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8765"
	}

	token := strings.TrimSpace(os.Getenv("QUILL_TOKEN"))
	if tokenFile := os.Getenv("QUILL_TOKEN_FILE"); token == "" && tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}

	maxBuffer := 0
	if raw := os.Getenv("QUILL_MAX_DECODER_BUFFER"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid QUILL_MAX_DECODER_BUFFER %q", raw)
		}
		maxBuffer = n
	}

	debug := os.Getenv("QUILL_DEBUG") == "true" || os.Getenv("QUILL_DEBUG") == "1"

	return &Config{
		ServerURL:        serverURL,
		Token:            token,
		QuillHome:        quillHome,
		MaxDecoderBuffer: maxBuffer,
		Debug:            debug,
		LogFile:          os.Getenv("QUILL_LOG_FILE"),
	}, nil
}

// TokenExpiresAt returns the expiry encoded in the configured bearer token.
//
// The signature is not verified; the server remains authoritative. ok is
// false when the token is absent, not a JWT, or carries no expiry.
func (c *Config) TokenExpiresAt() (time.Time, bool) {
	if c.Token == "" {
		return time.Time{}, false
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenExpired reports whether the configured token has already expired.
// It returns false when no expiry can be determined.
func (c *Config) TokenExpired(now time.Time) bool {
	exp, ok := c.TokenExpiresAt()
	if !ok {
		return false
	}
	return now.After(exp)
}
