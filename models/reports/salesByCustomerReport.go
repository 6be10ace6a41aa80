package reports

import (
	"context"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/shopspring/decimal"
)

type SalesByCustomerResponse struct {
	CustomerID        int             `json:"CustomerId"`
	CustomerName      *string         `json:"CustomerName,omitempty"`
	InvoiceCount      int             `json:"InvoiceCount"`
	TotalSales        decimal.Decimal `json:"TotalSales"`
	TotalSalesWithTax decimal.Decimal `json:"TotalSalesWithTax"`
}

func GetSalesByCustomerReport(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*SalesByCustomerResponse, error) {

	sql := `
SELECT
    inv.customer_id,
    inv.total_sales,
    inv.total_sales + inv.total_tax AS total_sales_with_tax,
    inv.invoice_count,
    customers.name AS customer_name
FROM
    (SELECT
        customer_id,
            SUM(subtotal) AS total_sales,
            SUM(tax_amount) AS total_tax,
            COUNT(invoices.id) AS invoice_count
    FROM
        invoices
    WHERE
        company_id = @companyId
            AND issue_date BETWEEN @fromDate AND @toDate
            AND status IN ('Paid', 'Partial', 'Pending', 'Overdue')
    GROUP BY customer_id) AS inv
        LEFT JOIN
    customers ON customers.id = inv.customer_id;
`

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if toDate.Before(fromDate) {
		return nil, utils.InvalidArgument("to date is before from date")
	}

	var records []*SalesByCustomerResponse
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"companyId": companyId,
		"fromDate":  fromDate,
		"toDate":    toDate,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r SalesByCustomerResponse) GetCellValues() []interface{} {
	return []interface{}{
		utils.DereferencePtr(r.CustomerName, ""),
		r.InvoiceCount,
		r.TotalSales,
		r.TotalSalesWithTax,
	}
}
