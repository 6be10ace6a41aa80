package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/facturasoft/factura_backend/models"
	"github.com/xuri/excelize/v2"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

// WriteInvoiceExport streams the tenant's invoices as an xlsx workbook.
func WriteInvoiceExport(ctx context.Context, w io.Writer, status *models.InvoiceStatus) error {

	invoices, err := models.GetInvoices(ctx, nil, status)
	if err != nil {
		return err
	}

	rows := make([]ExcelExporter, 0, len(invoices))
	for _, invoice := range invoices {
		rows = append(rows, invoiceExportRow{invoice})
	}

	return writeExcel(w, rows,
		"Number", "Customer", "Status", "Issue Date", "Due Date", "Currency", "Subtotal", "Tax", "Total")
}

type invoiceExportRow struct {
	*models.Invoice
}

func (r invoiceExportRow) GetCellValues() []interface{} {
	customerName := ""
	if r.Customer != nil {
		customerName = r.Customer.Name
	}
	return []interface{}{
		r.DocumentNumber,
		customerName,
		string(r.Status),
		r.IssueDate.Format(time.DateOnly),
		r.DueDate.Format(time.DateOnly),
		r.CurrencyCode,
		r.Subtotal.String(),
		r.TaxAmount.String(),
		r.Total.String(),
	}
}

// WriteSalesByCustomerExport exports the sales-by-customer aggregation.
func WriteSalesByCustomerExport(ctx context.Context, w io.Writer, fromDate time.Time, toDate time.Time) error {
	records, err := GetSalesByCustomerReport(ctx, fromDate, toDate)
	if err != nil {
		return err
	}
	rows := make([]ExcelExporter, 0, len(records))
	for _, r := range records {
		rows = append(rows, r)
	}
	return writeExcel(w, rows, "Customer Name", "Invoice Count", "Total Sales", "Total Sales With Tax")
}

func writeExcel(w io.Writer, data []ExcelExporter, headings ...string) error {

	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	col := 'A'
	for _, h := range headings {
		if err := f.SetCellValue(sheetName, string(col)+"1", h); err != nil {
			return err
		}
		col++
	}

	rowNo := 2
	for _, d := range data {
		col := 'A'
		for _, value := range d.GetCellValues() {
			if err := f.SetCellValue(sheetName, string(col)+fmt.Sprint(rowNo), value); err != nil {
				return err
			}
			col++
		}
		rowNo++
	}

	return f.Write(w)
}
