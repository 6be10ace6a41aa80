package models

import (
	"context"
	"fmt"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Company struct {
	ID           uuid.UUID `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	LegalName    string    `gorm:"size:150" json:"legal_name"`
	TaxId        string    `gorm:"size:100" json:"tax_id"`
	Email        string    `gorm:"size:255" json:"email"`
	Phone        string    `gorm:"size:20" json:"phone"`
	Address      string    `gorm:"type:text" json:"address"`
	Country      string    `gorm:"size:100" json:"country"`
	City         string    `gorm:"size:100" json:"city"`
	CurrencyCode string    `gorm:"size:3;not null;default:MXN" json:"currency_code"`
	Timezone     string    `gorm:"size:50" json:"timezone"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompany struct {
	Name         string `json:"name" binding:"required"`
	LegalName    string `json:"legal_name"`
	TaxId        string `json:"tax_id"`
	Email        string `json:"email" binding:"required"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	Country      string `json:"country"`
	City         string `json:"city"`
	CurrencyCode string `json:"currency_code"`
	Timezone     string `json:"timezone"`
}

func (company *Company) StoreRedis() error {
	return config.SetRedisObject("Company:"+fmt.Sprint(company.ID), company, 0)
}

func (company *Company) RemoveRedis() error {
	return config.RemoveRedisKey("Company:" + fmt.Sprint(company.ID))
}

// createCompanyInTx provisions the tenant row and its trial subscription
// inside the caller's transaction. Signup adds the owner user in the same
// transaction before committing.
func createCompanyInTx(tx *gorm.DB, input *NewCompany) (*Company, error) {
	if input.CurrencyCode == "" {
		input.CurrencyCode = "MXN"
	}
	if len(input.CurrencyCode) != 3 {
		return nil, utils.InvalidArgument("currency code must be 3 letters")
	}

	company := Company{
		ID:           uuid.New(),
		Name:         input.Name,
		LegalName:    input.LegalName,
		TaxId:        input.TaxId,
		Email:        input.Email,
		Phone:        input.Phone,
		Address:      input.Address,
		Country:      input.Country,
		City:         input.City,
		CurrencyCode: input.CurrencyCode,
		Timezone:     input.Timezone,
		IsActive:     utils.NewTrue(),
	}

	if err := tx.Create(&company).Error; err != nil {
		return nil, err
	}

	subscription := Subscription{
		CompanyId: company.ID.String(),
		Plan:      "trial",
		Status:    SubscriptionStatusTrial,
		ExpiresAt: time.Now().UTC().AddDate(0, 0, 30),
	}
	if err := tx.Create(&subscription).Error; err != nil {
		return nil, err
	}

	return &company, nil
}

func CreateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	company, err := createCompanyInTx(tx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := company.StoreRedis(); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "CreateCompany", "Error caching company", company.ID, err)
	}

	return company, nil
}

func UpdateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}
	if input.CurrencyCode != "" && len(input.CurrencyCode) != 3 {
		return nil, utils.InvalidArgument("currency code must be 3 letters")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(company).Updates(map[string]interface{}{
		"Name":      input.Name,
		"LegalName": input.LegalName,
		"TaxId":     input.TaxId,
		"Email":     input.Email,
		"Phone":     input.Phone,
		"Address":   input.Address,
		"Country":   input.Country,
		"City":      input.City,
		"Timezone":  input.Timezone,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := company.RemoveRedis(); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "UpdateCompany", "Error evicting company cache", companyId, err)
	}

	return GetCompanyById(ctx, companyId)
}

// ToggleActiveCompany is an admin-only switch; an inactive company is
// rejected at the auth middleware.
func ToggleActiveCompany(ctx context.Context, id string, isActive bool) (*Company, error) {
	company, err := GetCompanyById(ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(company).Update("IsActive", isActive).Error; err != nil {
		return nil, err
	}
	if err := company.RemoveRedis(); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "ToggleActiveCompany", "Error evicting company cache", id, err)
	}

	company.IsActive = &isActive
	return company, nil
}

// GetCompanyById reads through the redis cache.
func GetCompanyById(ctx context.Context, id string) (*Company, error) {
	if err := validateCompanyId(id); err != nil {
		return nil, err
	}

	var company Company
	if exists, err := config.GetRedisObject("Company:"+id, &company); err == nil && exists {
		return &company, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).First(&company, "id = ?", id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if err := company.StoreRedis(); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "GetCompanyById", "Error caching company", id, err)
	}
	return &company, nil
}

// GetCompany returns the caller's own tenant.
func GetCompany(ctx context.Context) (*Company, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return GetCompanyById(ctx, companyId)
}

func GetCompanies(ctx context.Context, name *string) ([]*Company, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	var results []*Company
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
