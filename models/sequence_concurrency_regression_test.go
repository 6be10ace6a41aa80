package models_test

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/utils"
)

// Concurrent creators must end up with a dense, duplicate-free number run.
// The first allocator may lose the sequence-row initialization race and is
// expected to retry on ErrorTransactionAborted, like API clients do.
func TestConcurrentInvoiceCreationAllocatesGaplessNumbers(t *testing.T) {
	ctx := startIntegrationStack(t)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Carga SA"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	service := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:      "Soporte",
		Sku:       "SRV-1",
		Kind:      models.ProductKindService,
		UnitPrice: dec("100"),
	})

	const workers = 12

	numbers := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 5; attempt++ {
				invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
					CustomerId: customer.ID,
					LineItems:  []models.NewInvoiceLineItem{{ProductId: service.ID, Qty: dec("1")}},
				})
				if errors.Is(err, utils.ErrorTransactionAborted) {
					continue
				}
				if err != nil {
					errs[i] = err
					return
				}
				numbers[i] = invoice.DocumentNumber
				return
			}
			errs[i] = fmt.Errorf("gave up after repeated transaction aborts")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	sort.Strings(numbers)
	for i, got := range numbers {
		want := fmt.Sprintf("FAC-%05d", i+1)
		if got != want {
			t.Fatalf("numbers not gapless: position %d has %q, want %q (all: %v)", i, got, want, numbers)
		}
	}

	// the sequence preview reflects the high-water mark without consuming
	next, err := models.PreviewNextDocumentNumber(ctx, models.DocumentTypeInvoice)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if want := fmt.Sprintf("FAC-%05d", workers+1); next != want {
		t.Errorf("preview = %q, want %q", next, want)
	}
	again, err := models.PreviewNextDocumentNumber(ctx, models.DocumentTypeInvoice)
	if err != nil {
		t.Fatalf("second preview: %v", err)
	}
	if again != next {
		t.Errorf("preview consumed the sequence: %q then %q", next, again)
	}
}
