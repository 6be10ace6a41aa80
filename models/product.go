package models

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID                int             `gorm:"primary_key" json:"id"`
	CompanyId         string          `gorm:"index;size:36;not null" json:"company_id" binding:"required"`
	Name              string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Description       string          `gorm:"type:text" json:"description"`
	Sku               string          `gorm:"size:100;not null" json:"sku" binding:"required"`
	Kind              ProductKind     `gorm:"type:enum('P','S');default:P" json:"kind"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TaxRate           decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	StockQty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	LowStockThreshold decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"low_stock_threshold"`
	IsActive          *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name              string          `json:"name" binding:"required"`
	Description       string          `json:"description"`
	Sku               string          `json:"sku" binding:"required"`
	Kind              ProductKind     `json:"kind"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	OpeningStockQty   decimal.Decimal `json:"opening_stock_qty"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
}

// TracksStock reports whether the product participates in stock
// reconciliation. Services never do.
func (p *Product) TracksStock() bool {
	return p.Kind == ProductKindPhysical
}

func (input *NewProduct) validate(ctx context.Context, companyId string, exceptId int) error {
	if !input.Kind.Valid() {
		return utils.InvalidArgument("unknown product kind %q", input.Kind)
	}
	if input.UnitPrice.IsNegative() {
		return utils.InvalidArgument("unit price cannot be negative")
	}
	if input.TaxRate.IsNegative() {
		return utils.InvalidArgument("tax rate cannot be negative")
	}
	if input.LowStockThreshold.IsNegative() {
		return utils.InvalidArgument("low stock threshold cannot be negative")
	}
	if input.Kind == ProductKindService {
		if !input.OpeningStockQty.IsZero() {
			return utils.InvalidArgument("services cannot carry stock")
		}
		if !input.LowStockThreshold.IsZero() {
			return utils.InvalidArgument("services cannot have a low stock threshold")
		}
	}
	if input.OpeningStockQty.IsNegative() {
		return utils.InvalidArgument("opening stock qty cannot be negative")
	}
	// sku unique per company
	if err := utils.ValidateUnique[Product](ctx, companyId, "sku", input.Sku, exceptId); err != nil {
		return err
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if input.Kind == "" {
		input.Kind = ProductKindPhysical
	}
	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	product := Product{
		CompanyId:         companyId,
		Name:              input.Name,
		Description:       input.Description,
		Sku:               input.Sku,
		Kind:              input.Kind,
		UnitPrice:         input.UnitPrice,
		TaxRate:           input.TaxRate,
		StockQty:          input.OpeningStockQty,
		LowStockThreshold: input.LowStockThreshold,
		IsActive:          utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.Conflict("duplicate sku")
		}
		return nil, err
	}

	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	product, err := utils.FetchModel[Product](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if input.Kind == "" {
		input.Kind = product.Kind
	}
	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	// kind cannot change once the product appears on a document
	if input.Kind != product.Kind {
		count, err := utils.ResourceCountWhere[InvoiceLineItem](ctx, "", "product_id = ?", id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, utils.Conflict("cannot change kind of a product already invoiced")
		}
	}

	db := config.GetDB()
	// StockQty is deliberately not writable here; only invoicing and the
	// stock adjustment endpoint mutate it.
	err = db.WithContext(ctx).Model(product).Updates(map[string]interface{}{
		"Name":              input.Name,
		"Description":       input.Description,
		"Sku":               input.Sku,
		"Kind":              input.Kind,
		"UnitPrice":         input.UnitPrice,
		"TaxRate":           input.TaxRate,
		"LowStockThreshold": input.LowStockThreshold,
	}).Error
	if err != nil {
		return nil, err
	}

	return utils.FetchModel[Product](ctx, companyId, id)
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	product, err := utils.FetchModel[Product](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[InvoiceLineItem](ctx, "", "product_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.Conflict("product is referenced by invoices")
	}
	count, err = utils.ResourceCountWhere[QuoteLineItem](ctx, "", "product_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.Conflict("product is referenced by quotes")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(product).Error; err != nil {
		return nil, err
	}

	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return utils.FetchModel[Product](ctx, companyId, id)
}

func GetProducts(ctx context.Context, name *string, activeOnly bool) ([]*Product, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}

	var results []*Product
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetLowStockProducts lists stock-tracked products at or below their
// threshold. Products with a zero threshold never alert.
func GetLowStockProducts(ctx context.Context, companyId string) ([]*Product, error) {
	db := config.GetDB()
	var results []*Product
	err := db.WithContext(ctx).
		Where("company_id = ?", companyId).
		Where("kind = ?", ProductKindPhysical).
		Where("low_stock_threshold > 0 AND stock_qty <= low_stock_threshold").
		Order("stock_qty").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
