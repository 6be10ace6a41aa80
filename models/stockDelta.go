package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LowStockAlert is published on the company's redis channel whenever an
// invoice mutation leaves a tracked product at or below its threshold.
type LowStockAlert struct {
	CompanyId  string          `json:"company_id"`
	ProductId  int             `json:"product_id"`
	Name       string          `json:"name"`
	StockQty   decimal.Decimal `json:"stock_qty"`
	Threshold  decimal.Decimal `json:"threshold"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func LowStockChannel(companyId string) string {
	return fmt.Sprintf("lowstock:%s", companyId)
}

// lineQty is the minimal shape the reconciler needs from a document line.
type lineQty struct {
	ProductId int
	Qty       decimal.Decimal
}

// validatePreAggregated rejects documents that mention the same product on
// more than one line. Callers must collapse quantities before submitting.
func validatePreAggregated(lines []lineQty) error {
	seen := make(map[int]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductId]; ok {
			return utils.InvalidArgument("product %d appears on more than one line", line.ProductId)
		}
		seen[line.ProductId] = struct{}{}
	}
	return nil
}

// computeStockDeltas returns the additional consumption per product when a
// document's lines change from old to new. Positive means more stock is
// consumed, negative means stock is given back. Products absent from both
// sides never appear in the result.
func computeStockDeltas(oldLines []lineQty, newLines []lineQty) map[int]decimal.Decimal {
	deltas := make(map[int]decimal.Decimal, len(newLines))
	for _, line := range newLines {
		deltas[line.ProductId] = deltas[line.ProductId].Add(line.Qty)
	}
	for _, line := range oldLines {
		deltas[line.ProductId] = deltas[line.ProductId].Sub(line.Qty)
	}
	for id, d := range deltas {
		if d.IsZero() {
			delete(deltas, id)
		}
	}
	return deltas
}

// applyStockDeltas decrements product stock inside the caller's transaction.
// Products are locked in ascending id order so two concurrent invoices over
// the same product set cannot deadlock. Services pass through untouched.
// A consuming delta larger than the available stock fails the whole
// transaction with InsufficientStockError; partial application never happens.
func applyStockDeltas(tx *gorm.DB, companyId string, deltas map[int]decimal.Decimal) error {
	if len(deltas) == 0 {
		return nil
	}

	productIds := make([]int, 0, len(deltas))
	for id := range deltas {
		productIds = append(productIds, id)
	}
	sort.Ints(productIds)

	for _, id := range productIds {
		delta := deltas[id]

		var product Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ?", companyId).
			First(&product, id).Error
		if err != nil {
			return utils.ErrorRecordNotFound
		}

		if !product.TracksStock() {
			continue
		}

		if delta.IsPositive() && product.StockQty.LessThan(delta) {
			return &utils.InsufficientStockError{
				ProductId: product.ID,
				Name:      product.Name,
				Requested: delta,
				Available: product.StockQty,
			}
		}

		if err := tx.Exec("UPDATE products SET stock_qty = stock_qty - ? WHERE id = ? ", delta, product.ID).Error; err != nil {
			return err
		}
	}

	return nil
}

// restoreInvoiceStock gives the invoice's consumed stock back, exactly once.
// The stock_reversed guard makes cancel-then-void (or crash-retry) safe.
func restoreInvoiceStock(tx *gorm.DB, invoice *Invoice) error {
	if utils.DereferencePtr(invoice.StockReversed) {
		return nil
	}

	lines := make([]lineQty, 0, len(invoice.LineItems))
	for _, line := range invoice.LineItems {
		lines = append(lines, lineQty{ProductId: line.ProductId, Qty: line.Qty})
	}
	// old = current lines, new = nothing: every delta is a give-back
	deltas := computeStockDeltas(lines, nil)
	if err := applyStockDeltas(tx, invoice.CompanyId, deltas); err != nil {
		return err
	}

	if err := tx.Model(invoice).Update("StockReversed", true).Error; err != nil {
		return err
	}
	invoice.StockReversed = utils.NewTrue()
	return nil
}

// NotifyLowStock re-reads the touched products after commit and publishes an
// alert for each one at or below threshold. Publish failures are logged, not
// returned; the invoice mutation has already committed.
func NotifyLowStock(ctx context.Context, companyId string, productIds []int) {
	logger := config.GetLogger()
	if len(productIds) == 0 {
		return
	}

	db := config.GetDB()
	var products []*Product
	err := db.WithContext(ctx).
		Where("company_id = ?", companyId).
		Where("id IN ?", utils.UniqueSlice(productIds)).
		Where("kind = ?", ProductKindPhysical).
		Find(&products).Error
	if err != nil {
		config.LogError(logger, "models", "NotifyLowStock", "Error fetching products", companyId, err)
		return
	}

	for _, product := range products {
		if product.LowStockThreshold.IsZero() || product.StockQty.GreaterThan(product.LowStockThreshold) {
			continue
		}
		alert := LowStockAlert{
			CompanyId:  companyId,
			ProductId:  product.ID,
			Name:       product.Name,
			StockQty:   product.StockQty,
			Threshold:  product.LowStockThreshold,
			OccurredAt: time.Now().UTC(),
		}
		if err := config.PublishRedisMessage(ctx, LowStockChannel(companyId), alert); err != nil {
			config.LogError(logger, "models", "NotifyLowStock", "Error publishing low stock alert", alert, err)
		}
	}
}

// AdjustProductStock applies a manual correction outside of invoicing.
// Negative adjustments cannot take stock below zero.
func AdjustProductStock(ctx context.Context, productId int, qty decimal.Decimal, reason string) (*Product, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if qty.IsZero() {
		return nil, utils.InvalidArgument("adjustment qty cannot be zero")
	}

	release, err := utils.CompanyLock(ctx, companyId, "stock", "models", "AdjustProductStock")
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

	// a negative qty consumes stock, so feed it through the same
	// sufficiency check invoicing uses
	deltas := map[int]decimal.Decimal{productId: qty.Neg()}
	if err := applyStockDeltas(tx, companyId, deltas); err != nil {
		tx.Rollback()
		return nil, err
	}

	var product Product
	if err := tx.Where("company_id = ?", companyId).First(&product, productId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if !product.TracksStock() {
		tx.Rollback()
		return nil, utils.InvalidArgument("services do not carry stock")
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	NotifyLowStock(ctx, companyId, []int{productId})

	return &product, nil
}
