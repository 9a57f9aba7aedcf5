package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID int `gorm:"primary_key" json:"id"`
	AuditFields
	Name string `gorm:"index;size:100;not null;uniqueIndex:udx_live_name,priority:2" json:"name" binding:"required"`
	// ProductCode is system generated (`<categoryCode>#0001`), never
	// client supplied and never reused.
	ProductCode string `gorm:"index;size:30;not null" json:"product_code"`
	Description string `gorm:"size:500" json:"description"`
	Category    RefSnapshot `gorm:"embedded;embeddedPrefix:category_" json:"category"`
	Unit        RefSnapshot `gorm:"embedded;embeddedPrefix:unit_" json:"unit"`
	Brands      []string    `gorm:"serializer:json" json:"brands"`
	Variants    []string    `gorm:"serializer:json" json:"variants"`
	Barcode     string      `gorm:"size:50" json:"barcode"`
	Price       decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"price"`
	Discount    decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"discount"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"tax_rate"`
}

type NewProduct struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	CategoryId  int              `json:"categoryId" binding:"required"`
	UnitId      int              `json:"unitId" binding:"required"`
	Brands      []string         `json:"brands"`
	Variants    []string         `json:"variants"`
	Barcode     string           `json:"barcode"`
	Price       *decimal.Decimal `json:"price"`
	Discount    *decimal.Decimal `json:"discount"`
	TaxRate     *decimal.Decimal `json:"taxRate"`
}

type ProductPatch struct {
	Name        *string          `json:"name"`
	ProductCode *string          `json:"productCode"`
	Description *string          `json:"description"`
	CategoryId  *int             `json:"categoryId"`
	UnitId      *int             `json:"unitId"`
	Brands      []string         `json:"brands"`
	Variants    []string         `json:"variants"`
	Barcode     *string          `json:"barcode"`
	Price       *decimal.Decimal `json:"price"`
	Discount    *decimal.Decimal `json:"discount"`
	TaxRate     *decimal.Decimal `json:"taxRate"`
	IsActive    *bool            `json:"isActive"`
}

type ProductFilter struct {
	Name       *string `json:"name" form:"name"`
	CategoryId *int    `json:"categoryId" form:"categoryId"`
	Brand      *string `json:"brand" form:"brand"`
}

// FormatProductCode renders a per-category sequence number as a product
// code. Sequence numbers above 9999 widen naturally.
func FormatProductCode(categoryCode string, seq int) string {
	return fmt.Sprintf("%s#%04d", categoryCode, seq)
}
