// seed-admin creates or updates the platform console user. Admin users carry
// the Admin role with no company binding; the /admin routes require exactly that.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// ADMIN_EMAIL and ADMIN_PASSWORD override the defaults.
package main

import (
	"fmt"
	"os"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminEmail    = "admin@facturasoft.local"
	defaultAdminPassword = "F@cturaAdmin1"
	adminName            = "Platform Admin"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = defaultAdminEmail
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = defaultAdminPassword
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.Model(&models.User{}).Where("email = ?", email).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Email:    email,
			Name:     adminName,
			Password: hashed,
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
		}
		if err := db.Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: email=%q (role=Admin)\n", email)
		return
	}

	if err := db.Model(&models.User{}).Where("email = ?", email).Updates(map[string]any{
		"password":   hashed,
		"name":       adminName,
		"is_active":  utils.NewTrue(),
		"company_id": "",
		"role":       models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: email=%q (role=Admin)\n", email)
}
