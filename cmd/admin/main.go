// Package main provides permission management utilities for the storage portal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"coldfront/internal/cache"
	"coldfront/internal/config"
	"coldfront/internal/database"
	"coldfront/internal/models"
	"coldfront/internal/repository"
	"coldfront/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var roles = map[string]string{
	"manage": models.PermManageStorageRequests,
	"view":   models.PermViewAllStorageRequests,
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go grant <user_id> <manage|view>   - Grant a storage request permission")
	fmt.Println("  go run ./cmd/admin/main.go revoke <user_id> <manage|view>  - Revoke a storage request permission")
	fmt.Println("  go run ./cmd/admin/main.go list-managers                   - List users who can claim requests")
	fmt.Println("  go run ./cmd/admin/main.go create-user <username> <email>  - Create an account (password from ADMIN_USER_PASSWORD or stdin)")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	cache.InitRedis(cfg.RedisURL)

	switch command := os.Args[1]; command {
	case "grant", "revoke":
		if len(os.Args) < 4 {
			printUsage()
			os.Exit(1)
		}
		user := loadUser(db, os.Args[2])
		codename, ok := roles[os.Args[3]]
		if !ok {
			fmt.Printf("Unknown role: %s\n", os.Args[3])
			os.Exit(1)
		}
		if command == "grant" {
			grant(db, user, codename)
		} else {
			revoke(db, user, codename)
		}

	case "list-managers":
		listManagers(db)

	case "create-user":
		if len(os.Args) < 4 {
			printUsage()
			os.Exit(1)
		}
		password, err := readPassword(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		user, err := createUser(context.Background(), repository.NewUserRepository(db), os.Args[2], os.Args[3], password)
		if err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("Created %s (ID: %d)\n", user.Username, user.ID)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func loadUser(db *gorm.DB, rawID string) *models.User {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		fmt.Printf("Invalid user ID: %s\n", rawID)
		os.Exit(1)
	}
	user, err := repository.NewUserRepository(db).GetByID(context.Background(), uint(id))
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
			fmt.Printf("User with ID %s not found\n", rawID)
			os.Exit(1)
		}
		log.Fatalf("Database error: %v", err)
	}
	return user
}

func grant(db *gorm.DB, user *models.User, codename string) {
	if err := repository.NewUserRepository(db).GrantPermission(context.Background(), user.ID, codename); err != nil {
		log.Fatalf("Failed to grant permission: %v", err)
	}
	fmt.Printf("Granted %s to %s (ID: %d)\n", codename, user.Username, user.ID)
}

func revoke(db *gorm.DB, user *models.User, codename string) {
	res := db.Where("user_id = ? AND codename = ?", user.ID, codename).Delete(&models.UserPermission{})
	if res.Error != nil {
		log.Fatalf("Failed to revoke permission: %v", res.Error)
	}
	if res.RowsAffected == 0 {
		fmt.Printf("User %s (ID: %d) does not hold %s\n", user.Username, user.ID, codename)
		return
	}
	cache.Invalidate(context.Background(), cache.UserAccessKey(user.ID))
	fmt.Printf("Revoked %s from %s (ID: %d)\n", codename, user.Username, user.ID)
}

func listManagers(db *gorm.DB) {
	var managers []models.User
	err := db.Where("is_superuser = ?", true).
		Or("id IN (?)", db.Model(&models.UserPermission{}).
			Select("user_id").
			Where("codename = ?", models.PermManageStorageRequests)).
		Order("id").
		Find(&managers).Error
	if err != nil {
		log.Fatalf("Failed to fetch managers: %v", err)
	}

	if len(managers) == 0 {
		fmt.Println("No users can manage storage requests")
		return
	}

	fmt.Println("\nStorage request managers:")
	fmt.Println("─────────────────────────────────────")
	for _, m := range managers {
		fmt.Printf("ID: %d | Username: %s | Email: %s | Active: %t\n", m.ID, m.Username, m.Email, m.IsActive)
	}
	fmt.Println("─────────────────────────────────────")
}

func readPassword(stdin io.Reader) (string, error) {
	if pw := os.Getenv("ADMIN_USER_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// createUser stores an active account with no permissions. Agents still
// need "grant <id> manage" before they can claim.
func createUser(ctx context.Context, users repository.UserRepository, username, email, password string) (*models.User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username: username,
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: string(hash),
		IsActive: true,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
