package models

import (
	"errors"
	"testing"

	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeStockDeltasCreate(t *testing.T) {
	// create: no previous lines, every new line consumes
	deltas := computeStockDeltas(nil, []lineQty{
		{ProductId: 1, Qty: qty("3")},
		{ProductId: 2, Qty: qty("0.5")},
	})
	if len(deltas) != 2 {
		t.Fatalf("want 2 deltas, got %d", len(deltas))
	}
	if !deltas[1].Equal(qty("3")) {
		t.Errorf("product 1 delta = %s, want 3", deltas[1])
	}
	if !deltas[2].Equal(qty("0.5")) {
		t.Errorf("product 2 delta = %s, want 0.5", deltas[2])
	}
}

func TestComputeStockDeltasReconcile(t *testing.T) {
	old := []lineQty{
		{ProductId: 1, Qty: qty("5")}, // unchanged, must vanish
		{ProductId: 2, Qty: qty("2")}, // raised to 6
		{ProductId: 3, Qty: qty("4")}, // removed
	}
	updated := []lineQty{
		{ProductId: 1, Qty: qty("5")},
		{ProductId: 2, Qty: qty("6")},
		{ProductId: 4, Qty: qty("1")}, // added
	}
	deltas := computeStockDeltas(old, updated)

	if _, ok := deltas[1]; ok {
		t.Error("unchanged line must not appear in deltas")
	}
	if !deltas[2].Equal(qty("4")) {
		t.Errorf("raised line delta = %s, want 4", deltas[2])
	}
	if !deltas[3].Equal(qty("-4")) {
		t.Errorf("removed line delta = %s, want -4", deltas[3])
	}
	if !deltas[4].Equal(qty("1")) {
		t.Errorf("added line delta = %s, want 1", deltas[4])
	}
}

func TestComputeStockDeltasFullReversal(t *testing.T) {
	old := []lineQty{
		{ProductId: 7, Qty: qty("2")},
		{ProductId: 8, Qty: qty("9")},
	}
	deltas := computeStockDeltas(old, nil)
	if !deltas[7].Equal(qty("-2")) || !deltas[8].Equal(qty("-9")) {
		t.Errorf("full reversal deltas = %v, want all quantities negated", deltas)
	}
}

func TestValidatePreAggregated(t *testing.T) {
	ok := []lineQty{{ProductId: 1, Qty: qty("1")}, {ProductId: 2, Qty: qty("1")}}
	if err := validatePreAggregated(ok); err != nil {
		t.Fatalf("distinct products rejected: %v", err)
	}

	dup := []lineQty{{ProductId: 1, Qty: qty("1")}, {ProductId: 1, Qty: qty("2")}}
	err := validatePreAggregated(dup)
	if !errors.Is(err, utils.ErrorInvalidArgument) {
		t.Errorf("duplicate product: got %v, want ErrorInvalidArgument", err)
	}
}

func TestLowStockChannel(t *testing.T) {
	if got := LowStockChannel("abc"); got != "lowstock:abc" {
		t.Errorf("LowStockChannel = %q", got)
	}
}
