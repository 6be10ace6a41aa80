package models

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID             int               `gorm:"primary_key" json:"id"`
	CompanyId      string            `gorm:"size:36;not null;uniqueIndex:udx_invoice_company_number" json:"company_id" binding:"required"`
	CustomerId     int               `gorm:"index;not null" json:"customer_id"`
	Customer       *Customer         `json:"customer,omitempty"`
	DocumentNumber string            `gorm:"size:50;not null;uniqueIndex:udx_invoice_company_number" json:"document_number"`
	Status         InvoiceStatus     `gorm:"type:enum('Draft','Pending','Paid','Partial','Overdue','Cancelled','Void');default:Draft" json:"status"`
	IssueDate      time.Time         `json:"issue_date"`
	DueDate        time.Time         `json:"due_date"`
	CurrencyCode   string            `gorm:"size:3;not null" json:"currency_code"`
	Notes          string            `gorm:"type:text" json:"notes"`
	Subtotal       decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	Total          decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total"`
	StockReversed  *bool             `gorm:"not null;default:false" json:"stock_reversed"`
	QuoteId        int               `gorm:"index;default:0" json:"quote_id"`
	LineItems      []InvoiceLineItem `gorm:"foreignkey:InvoiceId" json:"line_items"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceLineItem snapshots name, price and tax rate at time of sale; later
// product changes never alter historical invoices.
type InvoiceLineItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TaxRate   decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
}

type NewInvoice struct {
	CustomerId     int                  `json:"customer_id" binding:"required"`
	DocumentNumber string               `json:"document_number"`
	Status         InvoiceStatus        `json:"status"`
	IssueDate      time.Time            `json:"issue_date"`
	DueDate        time.Time            `json:"due_date"`
	Notes          string               `json:"notes"`
	LineItems      []NewInvoiceLineItem `json:"line_items" binding:"required"`
}

type NewInvoiceLineItem struct {
	ProductId int              `json:"product_id" binding:"required"`
	Qty       decimal.Decimal  `json:"qty" binding:"required"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

func (invoice *Invoice) lineQtys() []lineQty {
	lines := make([]lineQty, 0, len(invoice.LineItems))
	for _, line := range invoice.LineItems {
		lines = append(lines, lineQty{ProductId: line.ProductId, Qty: line.Qty})
	}
	return lines
}

func (invoice *Invoice) productIds() []int {
	ids := make([]int, 0, len(invoice.LineItems))
	for _, line := range invoice.LineItems {
		ids = append(ids, line.ProductId)
	}
	return ids
}

func (input *NewInvoice) validate(ctx context.Context, companyId string) error {
	if len(input.LineItems) == 0 {
		return utils.InvalidArgument("invoice needs at least one line item")
	}

	lines := make([]lineQty, 0, len(input.LineItems))
	productIds := make([]int, 0, len(input.LineItems))
	for _, item := range input.LineItems {
		if item.Qty.LessThanOrEqual(decimal.Zero) {
			return utils.InvalidArgument("qty must be positive for product %d", item.ProductId)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return utils.InvalidArgument("unit price cannot be negative for product %d", item.ProductId)
		}
		lines = append(lines, lineQty{ProductId: item.ProductId, Qty: item.Qty})
		productIds = append(productIds, item.ProductId)
	}
	if err := validatePreAggregated(lines); err != nil {
		return err
	}

	if err := utils.ValidateResourceId[Customer](ctx, companyId, input.CustomerId); err != nil {
		return err
	}
	if err := utils.ValidateResourcesId[Product](ctx, companyId, productIds); err != nil {
		return err
	}
	return nil
}

// buildInvoiceLines snapshots product name, price and tax into line items and
// returns them with the computed totals.
func buildInvoiceLines(tx *gorm.DB, companyId string, items []NewInvoiceLineItem) ([]InvoiceLineItem, decimal.Decimal, decimal.Decimal, error) {
	var lines []InvoiceLineItem
	var subtotal, taxAmount decimal.Decimal

	for _, item := range items {
		var product Product
		if err := tx.Where("company_id = ?", companyId).First(&product, item.ProductId).Error; err != nil {
			return nil, subtotal, taxAmount, utils.ErrorRecordNotFound
		}
		if !utils.DereferencePtr(product.IsActive) {
			return nil, subtotal, taxAmount, utils.Conflict("product %s is inactive", product.Name)
		}

		unitPrice := product.UnitPrice
		if item.UnitPrice != nil {
			unitPrice = *item.UnitPrice
		}
		lineTotal := item.Qty.Mul(unitPrice)
		lineTax := lineTotal.Mul(product.TaxRate).Div(decimal.NewFromInt(100))

		lines = append(lines, InvoiceLineItem{
			ProductId: product.ID,
			Name:      product.Name,
			Qty:       item.Qty,
			UnitPrice: unitPrice,
			TaxRate:   product.TaxRate,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
		taxAmount = taxAmount.Add(lineTax)
	}

	return lines, subtotal, taxAmount, nil
}

// createInvoiceInTx is shared by CreateInvoice and ConvertQuoteToInvoice.
// Number allocation, stock validation, stock decrement and the invoice write
// all ride the same transaction.
func createInvoiceInTx(tx *gorm.DB, ctx context.Context, companyId string, input *NewInvoice) (*Invoice, error) {
	status := input.Status
	if status == "" {
		status = InvoiceStatusDraft
	}
	if status != InvoiceStatusDraft && status != InvoiceStatusPending {
		return nil, utils.InvalidArgument("invoices can only be created as Draft or Pending")
	}

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}

	number := input.DocumentNumber
	if number == "" {
		number, err = NextDocumentNumber(tx, companyId, DocumentTypeInvoice)
		if err != nil {
			return nil, err
		}
	}

	lines, subtotal, taxAmount, err := buildInvoiceLines(tx, companyId, input.LineItems)
	if err != nil {
		return nil, err
	}

	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now().UTC()
	}

	invoice := Invoice{
		CompanyId:      companyId,
		CustomerId:     input.CustomerId,
		DocumentNumber: number,
		Status:         status,
		IssueDate:      issueDate,
		DueDate:        input.DueDate,
		CurrencyCode:   company.CurrencyCode,
		Notes:          input.Notes,
		Subtotal:       subtotal,
		TaxAmount:      taxAmount,
		Total:          subtotal.Add(taxAmount),
		StockReversed:  utils.NewFalse(),
		LineItems:      lines,
	}

	if err := tx.Create(&invoice).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.Conflict("duplicate document number %s", number)
		}
		return nil, err
	}

	// empty previous set: the whole document is new consumption
	deltas := computeStockDeltas(nil, invoice.lineQtys())
	if err := applyStockDeltas(tx, companyId, deltas); err != nil {
		return nil, err
	}

	return &invoice, nil
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if err := input.validate(ctx, companyId); err != nil {
		return nil, err
	}

	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "CreateInvoice")
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	invoice, err := createInvoiceInTx(tx, ctx, companyId, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	NotifyLowStock(ctx, companyId, invoice.productIds())

	return invoice, nil
}

// UpdateInvoice replaces the line item set and reconciles stock by delta.
// The document number never changes.
func UpdateInvoice(ctx context.Context, id int, input *NewInvoice) (*Invoice, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	// lock before reading the invoice: the status and stock_reversed checks
	// below must see the latest committed state, not a pre-lock snapshot
	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "UpdateInvoice")
	if err != nil {
		return nil, err
	}
	defer release()

	invoice, err := utils.FetchModel[Invoice](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	if invoice.Status.Terminal() {
		return nil, utils.Conflict("cannot edit a %s invoice", invoice.Status)
	}
	if invoice.Status == InvoiceStatusPaid || invoice.Status == InvoiceStatusPartial {
		return nil, utils.Conflict("cannot edit an invoice with payments")
	}
	if err := input.validate(ctx, companyId); err != nil {
		return nil, err
	}
	if input.Status != "" && input.Status != invoice.Status {
		return nil, utils.InvalidArgument("status changes go through the status endpoint")
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	oldLines := invoice.lineQtys()
	touchedIds := invoice.productIds()

	lines, subtotal, taxAmount, err := buildInvoiceLines(tx, companyId, input.LineItems)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// replace the stored line set
	if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&InvoiceLineItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range lines {
		lines[i].InvoiceId = invoice.ID
	}
	if err := tx.Create(&lines).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = invoice.IssueDate
	}
	err = tx.Model(invoice).Updates(map[string]interface{}{
		"CustomerId": input.CustomerId,
		"IssueDate":  issueDate,
		"DueDate":    input.DueDate,
		"Notes":      input.Notes,
		"Subtotal":   subtotal,
		"TaxAmount":  taxAmount,
		"Total":      subtotal.Add(taxAmount),
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	newLines := make([]lineQty, 0, len(lines))
	for _, line := range lines {
		newLines = append(newLines, lineQty{ProductId: line.ProductId, Qty: line.Qty})
		touchedIds = append(touchedIds, line.ProductId)
	}
	deltas := computeStockDeltas(oldLines, newLines)
	if err := applyStockDeltas(tx, companyId, deltas); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	NotifyLowStock(ctx, companyId, touchedIds)

	return utils.FetchModel[Invoice](ctx, companyId, id, "LineItems")
}

// DeleteInvoice removes the document after reversing its stock consumption.
// Terminal invoices already gave their stock back and stay in the ledger.
func DeleteInvoice(ctx context.Context, id int) (*Invoice, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "DeleteInvoice")
	if err != nil {
		return nil, err
	}
	defer release()

	invoice, err := utils.FetchModel[Invoice](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	if invoice.Status.Terminal() {
		return nil, utils.Conflict("cannot delete a %s invoice", invoice.Status)
	}
	if invoice.Status == InvoiceStatusPaid || invoice.Status == InvoiceStatusPartial {
		return nil, utils.Conflict("cannot delete an invoice with payments")
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := restoreInvoiceStock(tx, invoice); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&InvoiceLineItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return invoice, nil
}

// UpdateInvoiceStatus drives the state machine. Entering Cancelled or Void
// reverses stock exactly once; re-cancelling a cancelled invoice is a no-op.
func UpdateInvoiceStatus(ctx context.Context, id int, status InvoiceStatus) (*Invoice, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	// lock before reading: a concurrent cancel commits status and
	// stock_reversed, and this transition must be judged against that
	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "UpdateInvoiceStatus")
	if err != nil {
		return nil, err
	}
	defer release()

	invoice, err := utils.FetchModel[Invoice](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}

	if invoice.Status == InvoiceStatusCancelled && status == InvoiceStatusCancelled {
		return invoice, nil
	}
	if err := ValidateInvoiceTransition(invoice.Status, status); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if releasesStock(status) {
		if err := restoreInvoiceStock(tx, invoice); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Model(invoice).Update("Status", status).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	invoice.Status = status
	return invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return utils.FetchModel[Invoice](ctx, companyId, id, "LineItems", "Customer")
}

func GetInvoices(ctx context.Context, customerId *int, status *InvoiceStatus) ([]*Invoice, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if customerId != nil && *customerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", *customerId)
	}
	if status != nil && *status != "" {
		if !status.Valid() {
			return nil, utils.InvalidArgument("unknown invoice status %q", *status)
		}
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	var results []*Invoice
	err := dbCtx.Preload("LineItems").Preload("Customer").
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MarkOverdueInvoices flips past-due Pending/Partial invoices to Overdue.
// Called from the background sweep; no stock effects.
func MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Invoice{}).
		Where("status IN ?", []InvoiceStatus{InvoiceStatusPending, InvoiceStatusPartial}).
		Where("due_date > '1000-01-01' AND due_date < ?", now).
		Update("status", InvoiceStatusOverdue)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
