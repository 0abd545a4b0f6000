// Package bootstrap wires process-level dependencies shared by the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"coldfront/internal/cache"
	"coldfront/internal/config"
	"coldfront/internal/database"
	"coldfront/internal/middleware"
	"coldfront/internal/models"
	"coldfront/internal/seed"
	"coldfront/internal/validation"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty database with demo projects and requests.
	SeedDemo bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := EnsureDevAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}

	if opts.SeedDemo {
		if _, err := seed.Demo(db, seed.DefaultOptions()); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

// EnsureDevAdmin creates or updates a development account holding the manage
// permission, so a local agent can claim and complete requests. It does
// nothing outside development or when DEV_BOOTSTRAP_ADMIN is off.
func EnsureDevAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapAdmin {
		return nil
	}

	username := strings.TrimSpace(cfg.DevAdminUsername)
	if username == "" {
		username = "coldfront_admin"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.DevAdminEmail))
	if email == "" {
		email = "admin@coldfront.local"
	}
	if cfg.DevAdminPassword == "" {
		return fmt.Errorf("DEV_ADMIN_PASSWORD must be set when DEV_BOOTSTRAP_ADMIN is enabled")
	}
	if err := validation.ValidateUsername(username); err != nil {
		return fmt.Errorf("DEV_ADMIN_USERNAME: %w", err)
	}
	if err := validation.ValidatePassword(cfg.DevAdminPassword); err != nil {
		return fmt.Errorf("DEV_ADMIN_PASSWORD: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.DevAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	var admin models.User
	err = db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where(models.User{Username: username}).
			Assign(models.User{Email: email, Password: string(hashedPassword), IsActive: true}).
			FirstOrCreate(&admin).Error
		if err != nil {
			return err
		}
		perm := models.UserPermission{UserID: admin.ID, Codename: models.PermManageStorageRequests}
		return tx.Where(perm).FirstOrCreate(&perm).Error
	})
	if err != nil {
		return err
	}
	cache.Invalidate(context.Background(), cache.UserAccessKey(admin.ID))

	middleware.Logger.Info("Development admin ensured",
		slog.Uint64("user_id", uint64(admin.ID)),
		slog.String("username", username))
	return nil
}
