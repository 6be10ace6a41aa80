package models

import (
	"log"

	"github.com/facturasoft/factura_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &Subscription{},
		&User{},
		&Customer{},
		&Product{},
		&DocumentSequence{},
		&Invoice{}, &InvoiceLineItem{},
		&Quote{}, &QuoteLineItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
