package models

// ProductKind separates stock-tracked goods from services.
// Only physical products carry a stock quantity; services are never
// stock-checked and never mutated by invoicing.
type ProductKind string

const (
	ProductKindPhysical ProductKind = "P"
	ProductKindService  ProductKind = "S"
)

func (k ProductKind) Valid() bool {
	return k == ProductKindPhysical || k == ProductKindService
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusPending   InvoiceStatus = "Pending"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusPartial   InvoiceStatus = "Partial"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
	InvoiceStatusVoid      InvoiceStatus = "Void"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPaid,
		InvoiceStatusPartial, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusVoid:
		return true
	}
	return false
}

// Terminal statuses forbid edits and, once entered, have had their stock
// effects reversed.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusCancelled || s == InvoiceStatusVoid
}

type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "Draft"
	QuoteStatusSent      QuoteStatus = "Sent"
	QuoteStatusAccepted  QuoteStatus = "Accepted"
	QuoteStatusDeclined  QuoteStatus = "Declined"
	QuoteStatusConverted QuoteStatus = "Converted"
	QuoteStatusExpired   QuoteStatus = "Expired"
)

func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusDraft, QuoteStatusSent, QuoteStatusAccepted,
		QuoteStatusDeclined, QuoteStatusConverted, QuoteStatusExpired:
		return true
	}
	return false
}

// DocumentType categorizes numbered documents. Each (company, type) pair owns
// an independent sequence.
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "Invoice"
	DocumentTypeQuote      DocumentType = "Quote"
	DocumentTypeCreditNote DocumentType = "CreditNote"
)

// documentTypePrefixes holds the default prefix per document type. Unknown
// types fall back to the generic prefix instead of failing.
var documentTypePrefixes = map[DocumentType]string{
	DocumentTypeInvoice:    "FAC",
	DocumentTypeQuote:      "QUO",
	DocumentTypeCreditNote: "CRN",
}

const (
	documentTypeFallbackPrefix = "DOC"
	defaultSequencePadding     = 5
)

type UserRole string

const (
	UserRoleOwner UserRole = "Owner"
	UserRoleAdmin UserRole = "Admin"
	UserRoleStaff UserRole = "Staff"
)

func (r UserRole) Valid() bool {
	return r == UserRoleOwner || r == UserRoleAdmin || r == UserRoleStaff
}

type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "Trial"
	SubscriptionStatusActive    SubscriptionStatus = "Active"
	SubscriptionStatusPastDue   SubscriptionStatus = "PastDue"
	SubscriptionStatusSuspended SubscriptionStatus = "Suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "Cancelled"
)
