package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
)

func TestInvoiceLifecycleReconcilesStock(t *testing.T) {
	ctx := startIntegrationStack(t)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Comercial Norte"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	widget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Widget",
		Sku:             "WID-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("100"),
		TaxRate:         dec("16"),
		OpeningStockQty: dec("10"),
	})
	gadget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Gadget",
		Sku:             "GAD-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("50"),
		OpeningStockQty: dec("4"),
	})
	consulting := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:      "Consulting",
		Sku:       "SRV-1",
		Kind:      models.ProductKindService,
		UnitPrice: dec("800"),
	})

	// 1) Create consumes stock; services pass through untouched.
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		Status:     models.InvoiceStatusPending,
		LineItems: []models.NewInvoiceLineItem{
			{ProductId: widget.ID, Qty: dec("3")},
			{ProductId: gadget.ID, Qty: dec("2")},
			{ProductId: consulting.ID, Qty: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if invoice.DocumentNumber != "FAC-00001" {
		t.Errorf("first invoice number = %q, want FAC-00001", invoice.DocumentNumber)
	}
	assertStock(t, ctx, widget.ID, "7")
	assertStock(t, ctx, gadget.ID, "2")
	assertStock(t, ctx, consulting.ID, "0")

	// subtotal 3*100 + 2*50 + 1*800 = 1200, tax 16% on widget line only = 48
	if !invoice.Subtotal.Equal(dec("1200")) {
		t.Errorf("subtotal = %s, want 1200", invoice.Subtotal)
	}
	if !invoice.TaxAmount.Equal(dec("48")) {
		t.Errorf("tax amount = %s, want 48", invoice.TaxAmount)
	}
	if !invoice.Total.Equal(dec("1248")) {
		t.Errorf("total = %s, want 1248", invoice.Total)
	}

	// 2) Overdrawing names the product and both quantities.
	_, err = models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: gadget.ID, Qty: dec("3")}},
	})
	var stockErr *utils.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("overdraw: got %v, want InsufficientStockError", err)
	}
	if stockErr.ProductId != gadget.ID {
		t.Errorf("overdraw product = %d, want %d", stockErr.ProductId, gadget.ID)
	}
	if !stockErr.Requested.Equal(dec("3")) || !stockErr.Available.Equal(dec("2")) {
		t.Errorf("overdraw requested/available = %s/%s, want 3/2", stockErr.Requested, stockErr.Available)
	}
	// the failed create must not have committed any stock change
	assertStock(t, ctx, gadget.ID, "2")

	// 3) Update reconciles by delta: widget 3 -> 5 consumes 2 more,
	// gadget line removed gives 2 back.
	updated, err := models.UpdateInvoice(ctx, invoice.ID, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems: []models.NewInvoiceLineItem{
			{ProductId: widget.ID, Qty: dec("5")},
			{ProductId: consulting.ID, Qty: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("update invoice: %v", err)
	}
	if updated.DocumentNumber != "FAC-00001" {
		t.Errorf("update changed document number to %q", updated.DocumentNumber)
	}
	assertStock(t, ctx, widget.ID, "5")
	assertStock(t, ctx, gadget.ID, "4")

	// resubmitting the same lines is a no-op for stock
	if _, err := models.UpdateInvoice(ctx, invoice.ID, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems: []models.NewInvoiceLineItem{
			{ProductId: widget.ID, Qty: dec("5")},
			{ProductId: consulting.ID, Qty: dec("1")},
		},
	}); err != nil {
		t.Fatalf("no-change update: %v", err)
	}
	assertStock(t, ctx, widget.ID, "5")
	assertStock(t, ctx, gadget.ID, "4")

	// 4) Cancelling restores the full remaining consumption exactly once.
	cancelled, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusCancelled)
	if err != nil {
		t.Fatalf("cancel invoice: %v", err)
	}
	if cancelled.Status != models.InvoiceStatusCancelled {
		t.Errorf("status = %s, want Cancelled", cancelled.Status)
	}
	assertStock(t, ctx, widget.ID, "10")

	// 5) Re-cancelling is a no-op, not an error, and restores nothing.
	again, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusCancelled)
	if err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	if again.Status != models.InvoiceStatusCancelled {
		t.Errorf("re-cancel status = %s", again.Status)
	}
	assertStock(t, ctx, widget.ID, "10")

	// 6) Leaving a terminal state is rejected.
	if _, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusPending); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("cancelled -> pending: got %v, want ErrorInvalidTransition", err)
	}

	// 7) Editing a cancelled invoice is rejected.
	if _, err := models.UpdateInvoice(ctx, invoice.ID, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("1")}},
	}); !errors.Is(err, utils.ErrorConflict) {
		t.Errorf("edit cancelled invoice: got %v, want ErrorConflict", err)
	}

	// 8) Deleting a draft reverses its consumption.
	draft, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("4")}},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	assertStock(t, ctx, widget.ID, "6")
	if _, err := models.DeleteInvoice(ctx, draft.ID); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	assertStock(t, ctx, widget.ID, "10")
	if _, err := models.GetInvoice(ctx, draft.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Errorf("deleted invoice still readable: %v", err)
	}

	// 9) Explicit document numbers skip allocation and collide loudly.
	explicit, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId:     customer.ID,
		DocumentNumber: "LEGACY-7",
		LineItems:      []models.NewInvoiceLineItem{{ProductId: consulting.ID, Qty: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create with explicit number: %v", err)
	}
	if explicit.DocumentNumber != "LEGACY-7" {
		t.Errorf("explicit number = %q", explicit.DocumentNumber)
	}
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId:     customer.ID,
		DocumentNumber: "LEGACY-7",
		LineItems:      []models.NewInvoiceLineItem{{ProductId: consulting.ID, Qty: dec("1")}},
	}); !errors.Is(err, utils.ErrorConflict) {
		t.Errorf("duplicate explicit number: got %v, want ErrorConflict", err)
	}

	// 10) Duplicate product lines are rejected before touching the DB.
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems: []models.NewInvoiceLineItem{
			{ProductId: widget.ID, Qty: dec("1")},
			{ProductId: widget.ID, Qty: dec("2")},
		},
	}); !errors.Is(err, utils.ErrorInvalidArgument) {
		t.Errorf("duplicate line product: got %v, want ErrorInvalidArgument", err)
	}
}

func TestQuoteConversionConsumesStockOnce(t *testing.T) {
	ctx := startIntegrationStack(t)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Distribuciones Sur"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	widget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Widget",
		Sku:             "WID-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("100"),
		OpeningStockQty: dec("10"),
	})

	quote, err := models.CreateQuote(ctx, &models.NewQuote{
		CustomerId: customer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("6")}},
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if quote.DocumentNumber != "QUO-00001" {
		t.Errorf("quote number = %q, want QUO-00001", quote.DocumentNumber)
	}
	// quotes never move stock
	assertStock(t, ctx, widget.ID, "10")

	// only accepted quotes convert
	if _, err := models.ConvertQuoteToInvoice(ctx, quote.ID); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("convert draft quote: got %v, want ErrorInvalidTransition", err)
	}

	if _, err := models.UpdateQuoteStatus(ctx, quote.ID, models.QuoteStatusSent); err != nil {
		t.Fatalf("send quote: %v", err)
	}
	if _, err := models.UpdateQuoteStatus(ctx, quote.ID, models.QuoteStatusAccepted); err != nil {
		t.Fatalf("accept quote: %v", err)
	}

	invoice, err := models.ConvertQuoteToInvoice(ctx, quote.ID)
	if err != nil {
		t.Fatalf("convert quote: %v", err)
	}
	if invoice.Status != models.InvoiceStatusPending {
		t.Errorf("converted invoice status = %s, want Pending", invoice.Status)
	}
	if invoice.DocumentNumber != "FAC-00001" {
		t.Errorf("converted invoice number = %q, want FAC-00001", invoice.DocumentNumber)
	}
	if invoice.QuoteId != quote.ID {
		t.Errorf("invoice.QuoteId = %d, want %d", invoice.QuoteId, quote.ID)
	}
	assertStock(t, ctx, widget.ID, "4")

	converted, err := models.GetQuote(ctx, quote.ID)
	if err != nil {
		t.Fatalf("reload quote: %v", err)
	}
	if converted.Status != models.QuoteStatusConverted {
		t.Errorf("quote status = %s, want Converted", converted.Status)
	}
	if converted.InvoiceId != invoice.ID {
		t.Errorf("quote.InvoiceId = %d, want %d", converted.InvoiceId, invoice.ID)
	}

	// converting twice must not double-consume
	if _, err := models.ConvertQuoteToInvoice(ctx, quote.ID); !errors.Is(err, utils.ErrorConflict) {
		t.Errorf("double convert: got %v, want ErrorConflict", err)
	}
	assertStock(t, ctx, widget.ID, "4")
}

// Racing cancels of one invoice must not stack reversals: whichever caller
// loses the lock has to re-read status and stock_reversed before deciding.
func TestConcurrentCancelsRestoreStockOnce(t *testing.T) {
	ctx := startIntegrationStack(t)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Carrera SA"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	widget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Widget",
		Sku:             "WID-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("100"),
		OpeningStockQty: dec("10"),
	})
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		Status:     models.InvoiceStatusPending,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("4")}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	assertStock(t, ctx, widget.ID, "6")

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusCancelled)
		}(i)
	}
	wg.Wait()

	// every racer either performed the cancel or hit the no-op path
	for i, err := range errs {
		if err != nil {
			t.Errorf("racer %d: %v", i, err)
		}
	}
	assertStock(t, ctx, widget.ID, "10")

	final, err := models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if final.Status != models.InvoiceStatusCancelled {
		t.Errorf("status = %s, want Cancelled", final.Status)
	}

	// a transition validated against pre-cancel state must not resurrect
	// the invoice
	if _, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusPaid); !errors.Is(err, utils.ErrorInvalidTransition) {
		t.Errorf("cancelled -> paid: got %v, want ErrorInvalidTransition", err)
	}
	assertStock(t, ctx, widget.ID, "10")
}

// Cancelling a paid invoice is legal and reverses its stock.
func TestPaidInvoiceCanBeCancelledWithReversal(t *testing.T) {
	ctx := startIntegrationStack(t)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Facturado SA"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	widget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Widget",
		Sku:             "WID-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("100"),
		OpeningStockQty: dec("10"),
	})
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		Status:     models.InvoiceStatusPending,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("3")}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusPaid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	assertStock(t, ctx, widget.ID, "7")

	cancelled, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusCancelled)
	if err != nil {
		t.Fatalf("cancel paid invoice: %v", err)
	}
	if cancelled.Status != models.InvoiceStatusCancelled {
		t.Errorf("status = %s, want Cancelled", cancelled.Status)
	}
	assertStock(t, ctx, widget.ID, "10")
}

func TestTenantsCannotReachEachOthersDocuments(t *testing.T) {
	ctx := startIntegrationStack(t)
	otherCtx := newTenantContext(t, "Segunda SA", "owner2@segunda.test")

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Cliente Uno"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	widget := mustCreateProduct(t, ctx, &models.NewProduct{
		Name:            "Widget",
		Sku:             "WID-1",
		Kind:            models.ProductKindPhysical,
		UnitPrice:       dec("10"),
		OpeningStockQty: dec("5"),
	})
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: widget.ID, Qty: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	if _, err := models.GetInvoice(otherCtx, invoice.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Errorf("cross-tenant invoice read: got %v, want ErrorRecordNotFound", err)
	}
	if _, err := models.GetProduct(otherCtx, widget.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Errorf("cross-tenant product read: got %v, want ErrorRecordNotFound", err)
	}

	// each tenant numbers independently from 1
	otherCustomer, err := models.CreateCustomer(otherCtx, &models.NewCustomer{Name: "Cliente Dos"})
	if err != nil {
		t.Fatalf("create other customer: %v", err)
	}
	otherService := mustCreateProduct(t, otherCtx, &models.NewProduct{
		Name:      "Servicio",
		Sku:       "SRV-1",
		Kind:      models.ProductKindService,
		UnitPrice: dec("100"),
	})
	otherInvoice, err := models.CreateInvoice(otherCtx, &models.NewInvoice{
		CustomerId: otherCustomer.ID,
		LineItems:  []models.NewInvoiceLineItem{{ProductId: otherService.ID, Qty: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create other invoice: %v", err)
	}
	if otherInvoice.DocumentNumber != "FAC-00001" {
		t.Errorf("second tenant first number = %q, want FAC-00001", otherInvoice.DocumentNumber)
	}
}

/* helpers */

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreateProduct(t *testing.T, ctx context.Context, input *models.NewProduct) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(ctx, input)
	if err != nil {
		t.Fatalf("create product %s: %v", input.Sku, err)
	}
	return product
}

func assertStock(t *testing.T, ctx context.Context, productId int, want string) {
	t.Helper()
	product, err := models.GetProduct(ctx, productId)
	if err != nil {
		t.Fatalf("get product %d: %v", productId, err)
	}
	if !product.StockQty.Equal(dec(want)) {
		t.Errorf("product %d stock = %s, want %s", productId, product.StockQty, want)
	}
}

// startIntegrationStack brings up throwaway MySQL and redis containers,
// connects the config singletons to them, migrates, and returns a tenant
// context for a freshly signed up company.
func startIntegrationStack(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factura_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return newTenantContext(t, "Primera SA", "owner@primera.test")
}

func newTenantContext(t *testing.T, companyName string, ownerEmail string) context.Context {
	t.Helper()
	company, owner, err := models.RegisterCompany(context.Background(), &models.Signup{
		Company: models.NewCompany{Name: companyName, Email: ownerEmail},
		Owner:   models.NewUser{Email: ownerEmail, Name: "Owner", Password: "superseguro1"},
	})
	if err != nil {
		t.Fatalf("register company %s: %v", companyName, err)
	}
	ctx := utils.SetCompanyIdInContext(context.Background(), company.ID.String())
	ctx = utils.SetUserIdInContext(ctx, owner.ID)
	ctx = utils.SetUserRoleInContext(ctx, string(owner.Role))
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factura-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factura-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factura_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
