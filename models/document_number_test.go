package models

import (
	"errors"
	"testing"

	"github.com/facturasoft/factura_backend/utils"
)

func TestFormatDocumentNumber(t *testing.T) {
	cases := []struct {
		prefix  string
		padding int
		n       int64
		want    string
	}{
		{"FAC", 5, 1, "FAC-00001"},
		{"FAC", 5, 99999, "FAC-99999"},
		{"FAC", 5, 100000, "FAC-100000"},
		{"QUO", 3, 42, "QUO-042"},
		{"CRN", 1, 7, "CRN-7"},
		{"X", 0, 3, "X-3"},
	}
	for _, c := range cases {
		got := formatDocumentNumber(c.prefix, c.padding, c.n)
		if got != c.want {
			t.Errorf("formatDocumentNumber(%q, %d, %d) = %q, want %q", c.prefix, c.padding, c.n, got, c.want)
		}
	}
}

func TestSequencePrefixFor(t *testing.T) {
	if got := sequencePrefixFor(DocumentTypeInvoice); got != "FAC" {
		t.Errorf("invoice prefix = %q, want FAC", got)
	}
	if got := sequencePrefixFor(DocumentTypeQuote); got != "QUO" {
		t.Errorf("quote prefix = %q, want QUO", got)
	}
	if got := sequencePrefixFor(DocumentType("bogus")); got != documentTypeFallbackPrefix {
		t.Errorf("unknown type prefix = %q, want fallback %q", got, documentTypeFallbackPrefix)
	}
}

func TestValidateCompanyId(t *testing.T) {
	if err := validateCompanyId("2f0a8f54-8c1e-4f7a-9db0-0f0c8a0b1c2d"); err != nil {
		t.Fatalf("valid uuid rejected: %v", err)
	}
	if err := validateCompanyId(""); !errors.Is(err, utils.ErrorInvalidArgument) {
		t.Errorf("empty company id: got %v, want ErrorInvalidArgument", err)
	}
	if err := validateCompanyId("not-a-uuid"); !errors.Is(err, utils.ErrorInvalidArgument) {
		t.Errorf("malformed company id: got %v, want ErrorInvalidArgument", err)
	}
}
