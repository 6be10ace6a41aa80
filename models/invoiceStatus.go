package models

import (
	"fmt"

	"github.com/facturasoft/factura_backend/utils"
)

// invoiceTransitions is the only authority on which status moves are legal.
// Terminal states (Cancelled, Void) have no outgoing edges; attempting to
// leave one is an invalid transition, including cancel-of-void.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusPending, InvoiceStatusCancelled},
	InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusPartial, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusVoid},
	InvoiceStatusPartial:   {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusPartial, InvoiceStatusCancelled},
	InvoiceStatusPaid:      {InvoiceStatusCancelled, InvoiceStatusVoid},
	InvoiceStatusCancelled: {},
	InvoiceStatusVoid:      {},
}

func CanTransitionInvoice(from InvoiceStatus, to InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func AllowedInvoiceTransitions(from InvoiceStatus) []InvoiceStatus {
	allowed := invoiceTransitions[from]
	out := make([]InvoiceStatus, len(allowed))
	copy(out, allowed)
	return out
}

// ValidateInvoiceTransition enforces the table above. Re-cancelling an
// already cancelled invoice is tolerated as a no-op; callers check for it
// before calling here.
func ValidateInvoiceTransition(from InvoiceStatus, to InvoiceStatus) error {
	if !to.Valid() {
		return utils.InvalidArgument("unknown invoice status %q", to)
	}
	if from == to {
		return fmt.Errorf("%w: invoice is already %s", utils.ErrorInvalidTransition, from)
	}
	if !CanTransitionInvoice(from, to) {
		return fmt.Errorf("%w: %s -> %s", utils.ErrorInvalidTransition, from, to)
	}
	return nil
}

// releasesStock reports whether entering newStatus takes the invoice out of
// circulation, so its reserved stock must be restored.
func releasesStock(newStatus InvoiceStatus) bool {
	return newStatus == InvoiceStatusCancelled || newStatus == InvoiceStatusVoid
}
