package models

import (
	"errors"
	"testing"

	"github.com/facturasoft/factura_backend/utils"
)

func TestInvoiceTransitionTable(t *testing.T) {
	allowed := []struct{ from, to InvoiceStatus }{
		{InvoiceStatusDraft, InvoiceStatusPending},
		{InvoiceStatusDraft, InvoiceStatusCancelled},
		{InvoiceStatusPending, InvoiceStatusPaid},
		{InvoiceStatusPending, InvoiceStatusPartial},
		{InvoiceStatusPending, InvoiceStatusOverdue},
		{InvoiceStatusPending, InvoiceStatusCancelled},
		{InvoiceStatusPending, InvoiceStatusVoid},
		{InvoiceStatusPartial, InvoiceStatusPaid},
		{InvoiceStatusPartial, InvoiceStatusOverdue},
		{InvoiceStatusPartial, InvoiceStatusCancelled},
		{InvoiceStatusOverdue, InvoiceStatusPaid},
		{InvoiceStatusOverdue, InvoiceStatusPartial},
		{InvoiceStatusOverdue, InvoiceStatusCancelled},
		{InvoiceStatusPaid, InvoiceStatusCancelled},
		{InvoiceStatusPaid, InvoiceStatusVoid},
	}
	for _, c := range allowed {
		if !CanTransitionInvoice(c.from, c.to) {
			t.Errorf("%s -> %s should be allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to InvoiceStatus }{
		{InvoiceStatusDraft, InvoiceStatusPaid},
		{InvoiceStatusDraft, InvoiceStatusVoid},
		{InvoiceStatusPaid, InvoiceStatusPending},
		{InvoiceStatusCancelled, InvoiceStatusPending},
		{InvoiceStatusCancelled, InvoiceStatusVoid},
		{InvoiceStatusVoid, InvoiceStatusCancelled},
		{InvoiceStatusVoid, InvoiceStatusPaid},
	}
	for _, c := range denied {
		if CanTransitionInvoice(c.from, c.to) {
			t.Errorf("%s -> %s should be denied", c.from, c.to)
		}
	}
}

func TestEveryNonTerminalStateCanCancel(t *testing.T) {
	for _, s := range []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusOverdue, InvoiceStatusPaid} {
		if !CanTransitionInvoice(s, InvoiceStatusCancelled) {
			t.Errorf("%s -> Cancelled should be allowed", s)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []InvoiceStatus{InvoiceStatusCancelled, InvoiceStatusVoid} {
		if !terminal.Terminal() {
			t.Errorf("%s should report Terminal()", terminal)
		}
		if exits := AllowedInvoiceTransitions(terminal); len(exits) != 0 {
			t.Errorf("%s has outgoing transitions %v, want none", terminal, exits)
		}
	}
}

func TestValidateInvoiceTransitionErrors(t *testing.T) {
	if err := ValidateInvoiceTransition(InvoiceStatusDraft, InvoiceStatus("Bogus")); !errors.Is(err, utils.ErrorInvalidArgument) {
		t.Errorf("unknown target status: got %v, want ErrorInvalidArgument", err)
	}
	if err := ValidateInvoiceTransition(InvoiceStatusPending, InvoiceStatusPending); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("same-status move: got %v, want ErrorInvalidTransition", err)
	}
	if err := ValidateInvoiceTransition(InvoiceStatusVoid, InvoiceStatusCancelled); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("cancel-of-void: got %v, want ErrorInvalidTransition", err)
	}
	if err := ValidateInvoiceTransition(InvoiceStatusPending, InvoiceStatusPaid); err != nil {
		t.Errorf("pending -> paid: unexpected error %v", err)
	}
}

func TestReleasesStock(t *testing.T) {
	if !releasesStock(InvoiceStatusCancelled) || !releasesStock(InvoiceStatusVoid) {
		t.Error("cancelled and void must release stock")
	}
	for _, s := range []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusPartial, InvoiceStatusOverdue} {
		if releasesStock(s) {
			t.Errorf("%s must not release stock", s)
		}
	}
}

func TestQuoteTransitions(t *testing.T) {
	if err := validateQuoteTransition(QuoteStatusDraft, QuoteStatusSent); err != nil {
		t.Errorf("draft -> sent: unexpected error %v", err)
	}
	if err := validateQuoteTransition(QuoteStatusSent, QuoteStatusAccepted); err != nil {
		t.Errorf("sent -> accepted: unexpected error %v", err)
	}
	if err := validateQuoteTransition(QuoteStatusDeclined, QuoteStatusSent); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("declined -> sent: got %v, want ErrorInvalidTransition", err)
	}
	if err := validateQuoteTransition(QuoteStatusDraft, QuoteStatusConverted); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("draft -> converted: got %v, want ErrorInvalidTransition", err)
	}
}
