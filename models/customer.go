package models

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
)

type Customer struct {
	ID             int       `gorm:"primary_key" json:"id"`
	CompanyId      string    `gorm:"index;size:36;not null" json:"company_id" binding:"required"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          string    `gorm:"size:255" json:"email"`
	Phone          string    `gorm:"size:20" json:"phone"`
	TaxId          string    `gorm:"size:100" json:"tax_id"`
	BillingAddress string    `gorm:"type:text" json:"billing_address"`
	Notes          string    `gorm:"type:text" json:"notes"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name           string `json:"name" binding:"required"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	TaxId          string `json:"tax_id"`
	BillingAddress string `json:"billing_address"`
	Notes          string `json:"notes"`
}

func (input *NewCustomer) validate() error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.InvalidArgument("invalid email address")
	}
	return nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	customer := Customer{
		CompanyId:      companyId,
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		TaxId:          input.TaxId,
		BillingAddress: input.BillingAddress,
		Notes:          input.Notes,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}

	return &customer, nil
}

func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (*Customer, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	customer, err := utils.FetchModel[Customer](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(customer).Updates(map[string]interface{}{
		"Name":           input.Name,
		"Email":          input.Email,
		"Phone":          input.Phone,
		"TaxId":          input.TaxId,
		"BillingAddress": input.BillingAddress,
		"Notes":          input.Notes,
	}).Error
	if err != nil {
		return nil, err
	}

	return utils.FetchModel[Customer](ctx, companyId, id)
}

func DeleteCustomer(ctx context.Context, id int) (*Customer, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	customer, err := utils.FetchModel[Customer](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Invoice](ctx, companyId, "customer_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.Conflict("customer has invoices")
	}
	count, err = utils.ResourceCountWhere[Quote](ctx, companyId, "customer_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.Conflict("customer has quotes")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(customer).Error; err != nil {
		return nil, err
	}

	return customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return utils.FetchModel[Customer](ctx, companyId, id)
}

func GetCustomers(ctx context.Context, name *string) ([]*Customer, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}

	var results []*Customer
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
