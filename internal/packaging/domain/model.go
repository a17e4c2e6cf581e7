package domain

import "time"

// PackagingRecord is one waybill-tracking unit created by the packing floor.
// Records for past dates are immutable, this service only reads them.
type PackagingRecord struct {
	ID            string    `json:"id"`
	PackagingDate string    `json:"packaging_date"`
	WaybillNumber string    `json:"waybill_number"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type PackagingItem struct {
	ID                string    `json:"id"`
	PackagingRecordID string    `json:"packaging_record_id"`
	ProductBarcode    string    `json:"product_barcode"`
	ScannedAt         time.Time `json:"scanned_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
