package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentSequence is the persisted counter behind document numbering, one row
// per (company, document type). LastNumber is mutated only through the atomic
// increment in NextDocumentNumber — never read-then-written.
type DocumentSequence struct {
	ID           int          `gorm:"primary_key" json:"id"`
	CompanyId    string       `gorm:"size:36;not null;uniqueIndex:udx_doc_seq_company_type" json:"company_id"`
	DocumentType DocumentType `gorm:"size:20;not null;uniqueIndex:udx_doc_seq_company_type" json:"document_type"`
	Prefix       string       `gorm:"size:10;not null" json:"prefix"`
	Padding      int          `gorm:"not null;default:5" json:"padding"`
	LastNumber   int64        `gorm:"not null;default:0" json:"last_number"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDocumentSequence struct {
	Prefix  string `json:"prefix" binding:"required"`
	Padding int    `json:"padding" binding:"required"`
}

func sequencePrefixFor(docType DocumentType) string {
	if prefix, ok := documentTypePrefixes[docType]; ok {
		return prefix
	}
	return documentTypeFallbackPrefix
}

func formatDocumentNumber(prefix string, padding int, n int64) string {
	if padding < 1 {
		padding = 1
	}
	return fmt.Sprintf("%s-%0*d", prefix, padding, n)
}

func validateCompanyId(companyId string) error {
	if companyId == "" {
		return utils.InvalidArgument("company id is required")
	}
	if _, err := uuid.Parse(companyId); err != nil {
		return utils.InvalidArgument("malformed company id %q", companyId)
	}
	return nil
}

// NextDocumentNumber allocates the next number for (company, document type)
// inside the caller's transaction. The increment is a single UPDATE so
// concurrent allocators serialize on the row lock, which is held until the
// enclosing transaction commits — a failed invoice write therefore rolls the
// allocation back with everything else.
func NextDocumentNumber(tx *gorm.DB, companyId string, docType DocumentType) (string, error) {
	if err := validateCompanyId(companyId); err != nil {
		return "", err
	}

	seq, err := ensureDocumentSequence(tx, companyId, docType)
	if err != nil {
		return "", err
	}

	if err := tx.Exec("UPDATE document_sequences SET last_number = last_number + 1 WHERE id = ?", seq.ID).Error; err != nil {
		return "", err
	}

	var updated DocumentSequence
	if err := tx.First(&updated, seq.ID).Error; err != nil {
		return "", err
	}

	return formatDocumentNumber(updated.Prefix, updated.Padding, updated.LastNumber), nil
}

// ensureDocumentSequence lazily creates the sequence row on first use.
// A duplicate-key race with a concurrent first allocation aborts the whole
// operation as retryable rather than guessing at the winner's state.
func ensureDocumentSequence(tx *gorm.DB, companyId string, docType DocumentType) (*DocumentSequence, error) {
	var seq DocumentSequence
	err := tx.Where("company_id = ? AND document_type = ?", companyId, docType).First(&seq).Error
	if err == nil {
		return &seq, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	seq = DocumentSequence{
		CompanyId:    companyId,
		DocumentType: docType,
		Prefix:       sequencePrefixFor(docType),
		Padding:      defaultSequencePadding,
	}
	if cerr := tx.Create(&seq).Error; cerr != nil {
		if utils.IsDuplicateKeyErr(cerr) {
			return nil, fmt.Errorf("%w: concurrent sequence initialization", utils.ErrorTransactionAborted)
		}
		return nil, cerr
	}
	return &seq, nil
}

// PreviewNextDocumentNumber returns what the next allocated number would be
// without mutating the counter. Explicitly separate from NextDocumentNumber.
func PreviewNextDocumentNumber(ctx context.Context, docType DocumentType) (string, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return "", utils.InvalidArgument("company id is required")
	}
	if err := validateCompanyId(companyId); err != nil {
		return "", err
	}

	db := config.GetDB()
	var seq DocumentSequence
	err := db.WithContext(ctx).Where("company_id = ? AND document_type = ?", companyId, docType).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return formatDocumentNumber(sequencePrefixFor(docType), defaultSequencePadding, 1), nil
	}
	if err != nil {
		return "", err
	}
	return formatDocumentNumber(seq.Prefix, seq.Padding, seq.LastNumber+1), nil
}

// UpdateDocumentSequence changes prefix/padding for a (company, type) pair.
// The counter value is never touched here.
func UpdateDocumentSequence(ctx context.Context, docType DocumentType, input *NewDocumentSequence) (*DocumentSequence, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if input.Prefix == "" || len(input.Prefix) > 10 {
		return nil, utils.InvalidArgument("prefix must be 1-10 characters")
	}
	if input.Padding < 1 || input.Padding > 12 {
		return nil, utils.InvalidArgument("padding must be between 1 and 12")
	}

	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	seq, err := ensureDocumentSequence(tx, companyId, docType)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(seq).Updates(map[string]interface{}{
		"Prefix":  input.Prefix,
		"Padding": input.Padding,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorTransactionAborted, err)
	}

	seq.Prefix = input.Prefix
	seq.Padding = input.Padding
	return seq, nil
}

func GetDocumentSequences(ctx context.Context) ([]*DocumentSequence, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	return utils.FetchAllModels[DocumentSequence](ctx, companyId)
}
