package models

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
)

type Subscription struct {
	ID        int                `gorm:"primary_key" json:"id"`
	CompanyId string             `gorm:"uniqueIndex;size:36;not null" json:"company_id"`
	Plan      string             `gorm:"size:50;not null;default:trial" json:"plan"`
	Status    SubscriptionStatus `gorm:"size:20;not null;default:Trial" json:"status"`
	ExpiresAt time.Time          `json:"expires_at"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSubscription struct {
	Plan      string             `json:"plan" binding:"required"`
	Status    SubscriptionStatus `json:"status" binding:"required"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Usable reports whether the tenant may keep writing documents.
// Expired trials and suspended tenants go read-only.
func (s *Subscription) Usable() bool {
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusTrial:
		return time.Now().UTC().Before(s.ExpiresAt)
	}
	return false
}

func GetSubscription(ctx context.Context) (*Subscription, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return getSubscriptionByCompany(ctx, companyId)
}

func getSubscriptionByCompany(ctx context.Context, companyId string) (*Subscription, error) {
	db := config.GetDB()
	var subscription Subscription
	err := db.WithContext(ctx).Where("company_id = ?", companyId).First(&subscription).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &subscription, nil
}

// UpdateSubscription is admin-only; tenants never change their own plan here.
func UpdateSubscription(ctx context.Context, companyId string, input *NewSubscription) (*Subscription, error) {
	if err := validateCompanyId(companyId); err != nil {
		return nil, err
	}
	switch input.Status {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusSuspended, SubscriptionStatusCancelled:
	default:
		return nil, utils.InvalidArgument("unknown subscription status %q", input.Status)
	}

	subscription, err := getSubscriptionByCompany(ctx, companyId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(subscription).Updates(map[string]interface{}{
		"Plan":      input.Plan,
		"Status":    input.Status,
		"ExpiresAt": input.ExpiresAt,
	}).Error
	if err != nil {
		return nil, err
	}

	return getSubscriptionByCompany(ctx, companyId)
}
