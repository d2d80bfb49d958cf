package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder is the procurement-side record an invoice is matched against
type PurchaseOrder struct {
	PONumber   string          `json:"po_number" db:"po_number"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	VendorID   string          `json:"vendor_id" db:"vendor_id"`
	VendorName string          `json:"vendor_name" db:"vendor_name"`
	Currency   string          `json:"currency" db:"currency"`
	Subtotal   decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax        decimal.Decimal `json:"tax" db:"tax"`
	Total      decimal.Decimal `json:"total" db:"total"`
	LineItems  []POLineItem    `json:"line_items"`
	IssuedAt   time.Time       `json:"issued_at" db:"issued_at"`
	Status     string          `json:"status" db:"status"`
}

// POLineItem is one ordered line on a purchase order
type POLineItem struct {
	Description string          `json:"description" db:"description"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
}
