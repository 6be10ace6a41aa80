package models

import (
	"context"
	"fmt"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote is a priced offer. Quotes never touch stock; consumption happens only
// when a quote converts into an invoice.
type Quote struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CompanyId      string          `gorm:"size:36;not null;uniqueIndex:udx_quote_company_number" json:"company_id" binding:"required"`
	CustomerId     int             `gorm:"index;not null" json:"customer_id"`
	Customer       *Customer       `json:"customer,omitempty"`
	DocumentNumber string          `gorm:"size:50;not null;uniqueIndex:udx_quote_company_number" json:"document_number"`
	Status         QuoteStatus     `gorm:"type:enum('Draft','Sent','Accepted','Declined','Converted','Expired');default:Draft" json:"status"`
	IssueDate      time.Time       `json:"issue_date"`
	ExpiryDate     time.Time       `json:"expiry_date"`
	CurrencyCode   string          `gorm:"size:3;not null" json:"currency_code"`
	Notes          string          `gorm:"type:text" json:"notes"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	InvoiceId      int             `gorm:"index;default:0" json:"invoice_id"`
	LineItems      []QuoteLineItem `gorm:"foreignkey:QuoteId" json:"line_items"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type QuoteLineItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	QuoteId   int             `gorm:"index;not null" json:"quote_id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TaxRate   decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
}

type NewQuote struct {
	CustomerId int                  `json:"customer_id" binding:"required"`
	IssueDate  time.Time            `json:"issue_date"`
	ExpiryDate time.Time            `json:"expiry_date"`
	Notes      string               `json:"notes"`
	LineItems  []NewInvoiceLineItem `json:"line_items" binding:"required"`
}

var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuoteStatusDraft:     {QuoteStatusSent, QuoteStatusDeclined},
	QuoteStatusSent:      {QuoteStatusAccepted, QuoteStatusDeclined, QuoteStatusExpired},
	QuoteStatusAccepted:  {QuoteStatusConverted, QuoteStatusExpired},
	QuoteStatusDeclined:  {},
	QuoteStatusExpired:   {},
	QuoteStatusConverted: {},
}

func validateQuoteTransition(from QuoteStatus, to QuoteStatus) error {
	if !to.Valid() {
		return utils.InvalidArgument("unknown quote status %q", to)
	}
	for _, allowed := range quoteTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", utils.ErrorInvalidTransition, from, to)
}

func (input *NewQuote) validate(ctx context.Context, companyId string) error {
	if len(input.LineItems) == 0 {
		return utils.InvalidArgument("quote needs at least one line item")
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

func buildQuoteLines(tx *gorm.DB, companyId string, items []NewInvoiceLineItem) ([]QuoteLineItem, decimal.Decimal, decimal.Decimal, error) {
	invoiceLines, subtotal, taxAmount, err := buildInvoiceLines(tx, companyId, items)
	if err != nil {
		return nil, subtotal, taxAmount, err
	}
	lines := make([]QuoteLineItem, 0, len(invoiceLines))
	for _, line := range invoiceLines {
		lines = append(lines, QuoteLineItem{
			ProductId: line.ProductId,
			Name:      line.Name,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			LineTotal: line.LineTotal,
		})
	}
	return lines, subtotal, taxAmount, nil
}

func CreateQuote(ctx context.Context, input *NewQuote) (*Quote, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if err := input.validate(ctx, companyId); err != nil {
		return nil, err
	}

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}

	release, err := utils.CompanyLock(ctx, companyId, "quote", "models", "CreateQuote")
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

	number, err := NextDocumentNumber(tx, companyId, DocumentTypeQuote)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	lines, subtotal, taxAmount, err := buildQuoteLines(tx, companyId, input.LineItems)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now().UTC()
	}

	quote := Quote{
		CompanyId:      companyId,
		CustomerId:     input.CustomerId,
		DocumentNumber: number,
		Status:         QuoteStatusDraft,
		IssueDate:      issueDate,
		ExpiryDate:     input.ExpiryDate,
		CurrencyCode:   company.CurrencyCode,
		Notes:          input.Notes,
		Subtotal:       subtotal,
		TaxAmount:      taxAmount,
		Total:          subtotal.Add(taxAmount),
		LineItems:      lines,
	}

	if err := tx.Create(&quote).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.Conflict("duplicate document number %s", number)
		}
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return &quote, nil
}

func UpdateQuote(ctx context.Context, id int, input *NewQuote) (*Quote, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	// conversion holds the invoice lock; taking the same one keeps the
	// editability check honest against a concurrent convert
	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "UpdateQuote")
	if err != nil {
		return nil, err
	}
	defer release()

	quote, err := utils.FetchModel[Quote](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	if quote.Status != QuoteStatusDraft && quote.Status != QuoteStatusSent {
		return nil, utils.Conflict("cannot edit a %s quote", quote.Status)
	}
	if err := input.validate(ctx, companyId); err != nil {
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

	lines, subtotal, taxAmount, err := buildQuoteLines(tx, companyId, input.LineItems)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Where("quote_id = ?", quote.ID).Delete(&QuoteLineItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range lines {
		lines[i].QuoteId = quote.ID
	}
	if err := tx.Create(&lines).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = quote.IssueDate
	}
	err = tx.Model(quote).Updates(map[string]interface{}{
		"CustomerId": input.CustomerId,
		"IssueDate":  issueDate,
		"ExpiryDate": input.ExpiryDate,
		"Notes":      input.Notes,
		"Subtotal":   subtotal,
		"TaxAmount":  taxAmount,
		"Total":      subtotal.Add(taxAmount),
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return utils.FetchModel[Quote](ctx, companyId, id, "LineItems")
}

func DeleteQuote(ctx context.Context, id int) (*Quote, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "DeleteQuote")
	if err != nil {
		return nil, err
	}
	defer release()

	quote, err := utils.FetchModel[Quote](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	if quote.Status == QuoteStatusConverted {
		return nil, utils.Conflict("cannot delete a converted quote")
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Where("quote_id = ?", quote.ID).Delete(&QuoteLineItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(quote).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return quote, nil
}

func UpdateQuoteStatus(ctx context.Context, id int, status QuoteStatus) (*Quote, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "UpdateQuoteStatus")
	if err != nil {
		return nil, err
	}
	defer release()

	quote, err := utils.FetchModel[Quote](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if status == QuoteStatusConverted {
		return nil, utils.InvalidArgument("conversion goes through the convert endpoint")
	}
	if err := validateQuoteTransition(quote.Status, status); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(quote).Update("Status", status).Error; err != nil {
		return nil, err
	}

	quote.Status = status
	return quote, nil
}

// ConvertQuoteToInvoice issues an invoice from an accepted quote. The invoice
// gets its own number from the invoice sequence; the quote's line prices are
// carried over as explicit unit prices so the invoice matches what was quoted.
func ConvertQuoteToInvoice(ctx context.Context, id int) (*Invoice, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	// lock before reading the quote so a concurrent convert cannot pass the
	// Accepted check twice and consume stock for two invoices
	release, err := utils.CompanyLock(ctx, companyId, "invoice", "models", "ConvertQuoteToInvoice")
	if err != nil {
		return nil, err
	}
	defer release()

	quote, err := utils.FetchModel[Quote](ctx, companyId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	if quote.Status == QuoteStatusConverted {
		return nil, utils.Conflict("quote is already converted")
	}
	if quote.Status != QuoteStatusAccepted {
		return nil, fmt.Errorf("%w: only accepted quotes convert", utils.ErrorInvalidTransition)
	}

	items := make([]NewInvoiceLineItem, 0, len(quote.LineItems))
	for _, line := range quote.LineItems {
		unitPrice := line.UnitPrice
		items = append(items, NewInvoiceLineItem{
			ProductId: line.ProductId,
			Qty:       line.Qty,
			UnitPrice: &unitPrice,
		})
	}
	input := NewInvoice{
		CustomerId: quote.CustomerId,
		Status:     InvoiceStatusPending,
		Notes:      quote.Notes,
		LineItems:  items,
	}
	if err := input.validate(ctx, companyId); err != nil {
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

	invoice, err := createInvoiceInTx(tx, ctx, companyId, &input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(invoice).Update("QuoteId", quote.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	err = tx.Model(quote).Updates(map[string]interface{}{
		"Status":    QuoteStatusConverted,
		"InvoiceId": invoice.ID,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	invoice.QuoteId = quote.ID
	NotifyLowStock(ctx, companyId, invoice.productIds())

	return invoice, nil
}

func GetQuote(ctx context.Context, id int) (*Quote, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return utils.FetchModel[Quote](ctx, companyId, id, "LineItems", "Customer")
}

func GetQuotes(ctx context.Context, customerId *int, status *QuoteStatus) ([]*Quote, error) {
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
			return nil, utils.InvalidArgument("unknown quote status %q", *status)
		}
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	var results []*Quote
	err := dbCtx.Preload("LineItems").Preload("Customer").
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ExpireQuotes flips past-expiry Sent/Accepted quotes to Expired.
func ExpireQuotes(ctx context.Context, now time.Time) (int64, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Quote{}).
		Where("status IN ?", []QuoteStatus{QuoteStatusSent, QuoteStatusAccepted}).
		Where("expiry_date > '1000-01-01' AND expiry_date < ?", now).
		Update("status", QuoteStatusExpired)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
