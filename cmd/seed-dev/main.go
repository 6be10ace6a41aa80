// seed-dev provisions a demo tenant for local development: one company with
// an owner login, a few customers, and a product catalog with opening stock.
// Safe to rerun; it exits early when the demo owner already exists.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... REDIS_ADDRESS=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	demoOwnerEmail    = "demo@facturasoft.local"
	demoOwnerPassword = "demodemo1"
)

func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", demoOwnerEmail).Count(&count).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to check for demo owner: %v\n", err)
		os.Exit(1)
	}
	if count > 0 {
		fmt.Printf("demo tenant already seeded (owner %s)\n", demoOwnerEmail)
		return
	}

	company, owner, err := models.RegisterCompany(context.Background(), &models.Signup{
		Company: models.NewCompany{
			Name:         "Demo SA de CV",
			Email:        demoOwnerEmail,
			Country:      "MX",
			City:         "Monterrey",
			CurrencyCode: "MXN",
		},
		Owner: models.NewUser{
			Email:    demoOwnerEmail,
			Name:     "Demo Owner",
			Password: demoOwnerPassword,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register demo company: %v\n", err)
		os.Exit(1)
	}

	ctx := utils.SetCompanyIdInContext(context.Background(), company.ID.String())
	ctx = utils.SetUserIdInContext(ctx, owner.ID)
	ctx = utils.SetUserRoleInContext(ctx, string(owner.Role))

	customers := []models.NewCustomer{
		{Name: "Comercializadora del Norte", Email: "compras@norte.example", TaxId: "CNO870521AB1"},
		{Name: "Servicios Industriales Gamma", Email: "pagos@gamma.example"},
		{Name: "Papelera Central"},
	}
	for i := range customers {
		if _, err := models.CreateCustomer(ctx, &customers[i]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed customer %q: %v\n", customers[i].Name, err)
			os.Exit(1)
		}
	}

	products := []models.NewProduct{
		{Name: "Caja archivo carta", Sku: "CAJ-001", Kind: models.ProductKindPhysical, UnitPrice: dec("85"), TaxRate: dec("16"), OpeningStockQty: dec("200"), LowStockThreshold: dec("25")},
		{Name: "Resma papel bond", Sku: "PAP-010", Kind: models.ProductKindPhysical, UnitPrice: dec("120"), TaxRate: dec("16"), OpeningStockQty: dec("80"), LowStockThreshold: dec("10")},
		{Name: "Tóner negro 26A", Sku: "TON-26A", Kind: models.ProductKindPhysical, UnitPrice: dec("1650"), TaxRate: dec("16"), OpeningStockQty: dec("12"), LowStockThreshold: dec("4")},
		{Name: "Instalación en sitio", Sku: "SRV-INS", Kind: models.ProductKindService, UnitPrice: dec("900"), TaxRate: dec("16")},
	}
	for i := range products {
		if _, err := models.CreateProduct(ctx, &products[i]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed product %q: %v\n", products[i].Sku, err)
			os.Exit(1)
		}
	}

	fmt.Printf("seeded demo tenant %q\n", company.Name)
	fmt.Printf("login: %s / %s\n", demoOwnerEmail, demoOwnerPassword)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
