package workflow

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LowStockSweep is the safety net behind the per-mutation alerts: it re-scans
// every active company on an interval and republishes alerts, and piggybacks
// the overdue-invoice and quote-expiry maintenance on the same tick.
type LowStockSweep struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	PollInterval time.Duration
}

func NewLowStockSweep(db *gorm.DB, logger *logrus.Logger) *LowStockSweep {
	return &LowStockSweep{
		DB:           db,
		Logger:       logger,
		PollInterval: 15 * time.Minute,
	}
}

func (s *LowStockSweep) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

func (s *LowStockSweep) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	overdue, err := models.MarkOverdueInvoices(ctx, now)
	if err != nil {
		config.LogError(s.Logger, "workflow", "sweepOnce", "Error marking overdue invoices", nil, err)
	} else if overdue > 0 {
		s.Logger.WithFields(logrus.Fields{"count": overdue}).Info("invoices marked overdue")
	}

	expired, err := models.ExpireQuotes(ctx, now)
	if err != nil {
		config.LogError(s.Logger, "workflow", "sweepOnce", "Error expiring quotes", nil, err)
	} else if expired > 0 {
		s.Logger.WithFields(logrus.Fields{"count": expired}).Info("quotes expired")
	}

	var companyIds []string
	err = s.DB.WithContext(ctx).Model(&models.Company{}).
		Where("is_active = ?", true).
		Pluck("id", &companyIds).Error
	if err != nil {
		config.LogError(s.Logger, "workflow", "sweepOnce", "Error listing companies", nil, err)
		return
	}

	for _, companyId := range companyIds {
		products, err := models.GetLowStockProducts(ctx, companyId)
		if err != nil {
			config.LogError(s.Logger, "workflow", "sweepOnce", "Error scanning low stock", companyId, err)
			continue
		}
		for _, product := range products {
			alert := models.LowStockAlert{
				CompanyId:  companyId,
				ProductId:  product.ID,
				Name:       product.Name,
				StockQty:   product.StockQty,
				Threshold:  product.LowStockThreshold,
				OccurredAt: now,
			}
			if err := config.PublishRedisMessage(ctx, models.LowStockChannel(companyId), alert); err != nil {
				config.LogError(s.Logger, "workflow", "sweepOnce", "Error publishing low stock alert", alert, err)
			}
		}
	}
}
