// Command token signs an API bearer token with the configured JWT secret.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/irfndi/correlation-regime-go/internal/config"
	"github.com/irfndi/correlation-regime-go/internal/middleware"
)

func main() {
	subject := flag.String("subject", "", "token subject (required)")
	scopes := flag.String("scopes", "", "comma-separated scopes, e.g. admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to security.jwt_expiry)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := issue(cfg.Security, *subject, *scopes, *ttl, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func issue(cfg config.SecurityConfig, subject, scopes string, ttl time.Duration, out io.Writer) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return errors.New("-subject is required")
	}
	if ttl == 0 {
		expiry, err := time.ParseDuration(cfg.JWTExpiry)
		if err != nil {
			return fmt.Errorf("invalid security.jwt_expiry %q: %w", cfg.JWTExpiry, err)
		}
		ttl = expiry
	}
	if ttl <= 0 {
		return errors.New("token lifetime must be positive")
	}

	token, err := middleware.NewAuthMiddleware(cfg.JWTSecret, true).
		GenerateToken(strings.TrimSpace(subject), splitScopes(scopes), ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func splitScopes(raw string) []string {
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
