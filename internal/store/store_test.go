package store

import (
	"testing"
	"time"
)

func TestParseSort(t *testing.T) {
	cases := []struct {
		name          string
		sort          string
		wantField     string
		wantDirection string
		wantErr       bool
	}{
		{name: "empty", sort: "", wantField: "", wantDirection: ""},
		{name: "field_only", sort: "scanned_at", wantField: "scanned_at", wantDirection: "asc"},
		{name: "desc", sort: "scanned_at desc", wantField: "scanned_at", wantDirection: "desc"},
		{name: "upper", sort: "Scanned_At DESC", wantField: "scanned_at", wantDirection: "desc"},
		{name: "injection", sort: "id; drop table products", wantErr: true},
		{name: "bad_direction", sort: "id sideways", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			field, direction, err := ParseSort(tc.sort)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.sort)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if field != tc.wantField || direction != tc.wantDirection {
				t.Fatalf("expected %q %q, got %q %q", tc.wantField, tc.wantDirection, field, direction)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	if got := ClampLimit(0); got != MaxListLimit {
		t.Fatalf("expected %d for zero limit, got %d", MaxListLimit, got)
	}
	if got := ClampLimit(250); got != MaxListLimit {
		t.Fatalf("expected %d for oversized limit, got %d", MaxListLimit, got)
	}
	if got := ClampLimit(50); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	type item struct {
		ID             string    `json:"id"`
		ProductBarcode string    `json:"product_barcode"`
		ScannedAt      time.Time `json:"scanned_at"`
		Quantity       int       `json:"quantity"`
	}

	scanned := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	rec := Record{
		"id":              "itm-1",
		"product_barcode": "BC-0001",
		"scanned_at":      scanned,
		"quantity":        int64(3),
	}

	decoded, err := Decode[item](rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.ID != "itm-1" || decoded.ProductBarcode != "BC-0001" {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
	if !decoded.ScannedAt.Equal(scanned) {
		t.Fatalf("expected scanned_at %v, got %v", scanned, decoded.ScannedAt)
	}
	if decoded.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", decoded.Quantity)
	}

	encoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded["product_barcode"] != "BC-0001" {
		t.Fatalf("expected barcode to survive encode, got %v", encoded["product_barcode"])
	}
}

func TestDecodeStringTimestamp(t *testing.T) {
	type item struct {
		ScannedAt time.Time `json:"scanned_at"`
	}

	rec := Record{"scanned_at": "2025-03-01T14:30:00Z"}
	decoded, err := Decode[item](rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	if !decoded.ScannedAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, decoded.ScannedAt)
	}
}
