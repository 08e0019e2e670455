package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	domainuser "storefront/internal/domain/user"
	"storefront/internal/infra/security"
)

type userFixture struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Password  string `json:"password"`
	CreatedAt string `json:"created_at"`
}

// seedUsers imports fixture users that are not stored yet, matched by email.
func seedUsers(ctx context.Context, users domainuser.Repository, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("user fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []userFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	hasher := security.BcryptHasher{}
	now := time.Now()
	for _, fx := range fixtures {
		if _, err := users.ByEmail(ctx, fx.Email); err == nil {
			continue
		} else if !errors.Is(err, domainuser.ErrNotFound) {
			return err
		}
		hash, err := hasher.Hash(fx.Password)
		if err != nil {
			logger.Error("fixture password rejected", "email", fx.Email, "error", err)
			continue
		}
		id := strings.TrimSpace(fx.ID)
		if id == "" {
			id = uuid.NewString()
		}
		u, err := domainuser.NewUser(domainuser.CreateParams{
			ID:           domainuser.ID(id),
			Email:        fx.Email,
			Name:         fx.Name,
			PasswordHash: hash,
			Role:         domainuser.Role(fx.Role),
			CreatedAt:    parseFixtureTime(fx.CreatedAt, now),
		})
		if err != nil {
			logger.Error("fixture invalid", "email", fx.Email, "error", err)
			continue
		}
		if err := users.Save(ctx, u); err != nil {
			logger.Error("cannot store fixture user", "email", fx.Email, "error", err)
			continue
		}
		logger.Info("user fixture imported", "user_id", u.ID, "role", u.Role)
	}
	return nil
}

func parseFixtureTime(value string, fallback time.Time) time.Time {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return fallback
}

func fixturesPath(configured string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join("data", "users.json")
}
