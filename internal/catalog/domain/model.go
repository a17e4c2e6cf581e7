package domain

import "time"

type ProductType string

const (
	ProductTypeSingle ProductType = "single"
	ProductTypeBundle ProductType = "bundle"
)

// UnknownProductName is the display name used when an item's barcode no
// longer matches any product.
const UnknownProductName = "Unknown Product"

type Product struct {
	ID          string      `json:"id"`
	Barcode     string      `json:"barcode"`
	Name        string      `json:"name"`
	ProductType ProductType `json:"product_type"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (p Product) IsBundle() bool { return p.ProductType == ProductTypeBundle }

// ProductComponent links a bundle product to one of its child products.
// Recipes are flat: children are assumed to be single products.
type ProductComponent struct {
	ID              string `json:"id"`
	ParentProductID string `json:"parent_product_id"`
	ChildProductID  string `json:"child_product_id"`
	Quantity        int    `json:"quantity"`
}

// BundleComponent is one resolved line of a bundle recipe, carrying the
// child's current barcode and name.
type BundleComponent struct {
	Barcode     string `json:"barcode"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}
