package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/packhouse/packline/internal/catalog/domain"
	packagingdomain "github.com/packhouse/packline/internal/packaging/domain"
	"gorm.io/gorm"
)

const (
	dateLayout = "2006-01-02"

	devSoapBarcode    = "8991001001"
	devShampooBarcode = "8991001002"
	devBundleBarcode  = "8991001003"
	devWaybill        = "DEV-0001"
)

// EnsureDevFixtures seeds a small catalog and one packed day so the archival
// pipeline has data to chew on in local environments. Safe to run on every
// startup, existing rows are left alone.
func EnsureDevFixtures(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		soap, err := ensureProductTx(ctx, tx, node, devSoapBarcode, "Bar Soap 90g", catalogdomain.ProductTypeSingle)
		if err != nil {
			return err
		}
		shampoo, err := ensureProductTx(ctx, tx, node, devShampooBarcode, "Shampoo 250ml", catalogdomain.ProductTypeSingle)
		if err != nil {
			return err
		}
		bundle, err := ensureProductTx(ctx, tx, node, devBundleBarcode, "Care Duo", catalogdomain.ProductTypeBundle)
		if err != nil {
			return err
		}

		if err := ensureComponentTx(ctx, tx, node, bundle.ID, soap.ID, 2); err != nil {
			return err
		}
		if err := ensureComponentTx(ctx, tx, node, bundle.ID, shampoo.ID, 1); err != nil {
			return err
		}

		// Yesterday, so the daily job picks the day up on the next run.
		day := time.Now().UTC().AddDate(0, 0, -1)
		return ensurePackagingDayTx(ctx, tx, node, day)
	})
}

func ensureProductTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, barcode, name string, productType catalogdomain.ProductType) (catalogdomain.Product, error) {
	var product catalogdomain.Product
	err := tx.WithContext(ctx).Table("products").Where("barcode = ?", barcode).First(&product).Error
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return product, err
	}

	now := time.Now().UTC()
	product = catalogdomain.Product{
		ID:          node.Generate().String(),
		Barcode:     barcode,
		Name:        name,
		ProductType: productType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Table("products").Create(&product).Error; err != nil {
		return product, err
	}
	return product, nil
}

func ensureComponentTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, parentID, childID string, quantity int) error {
	var component catalogdomain.ProductComponent
	err := tx.WithContext(ctx).
		Table("product_components").
		Where("parent_product_id = ? AND child_product_id = ?", parentID, childID).
		First(&component).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	component = catalogdomain.ProductComponent{
		ID:              node.Generate().String(),
		ParentProductID: parentID,
		ChildProductID:  childID,
		Quantity:        quantity,
	}
	return tx.WithContext(ctx).Table("product_components").Create(&component).Error
}

func ensurePackagingDayTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, day time.Time) error {
	date := day.Format(dateLayout)
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var record packagingdomain.PackagingRecord
	err := tx.WithContext(ctx).
		Table("packaging_records").
		Where("packaging_date = ? AND waybill_number = ?", date, devWaybill).
		First(&record).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	record = packagingdomain.PackagingRecord{
		ID:            node.Generate().String(),
		PackagingDate: date,
		WaybillNumber: devWaybill,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Table("packaging_records").Create(&record).Error; err != nil {
		return err
	}

	scans := []struct {
		barcode string
		at      time.Time
	}{
		{devSoapBarcode, midnight.Add(8*time.Hour + 15*time.Minute)},
		{devBundleBarcode, midnight.Add(8*time.Hour + 17*time.Minute)},
		{devShampooBarcode, midnight.Add(9*time.Hour + 40*time.Minute)},
	}
	for _, scan := range scans {
		item := packagingdomain.PackagingItem{
			ID:                node.Generate().String(),
			PackagingRecordID: record.ID,
			ProductBarcode:    scan.barcode,
			ScannedAt:         scan.at,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.WithContext(ctx).Table("packaging_items").Create(&item).Error; err != nil {
			return err
		}
	}
	return nil
}
