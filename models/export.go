package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/xuri/excelize/v2"
)

var productExportHeader = []string{
	"Product Code", "Name", "Description", "Category", "Unit",
	"Brands", "Variants", "Barcode", "Price", "Discount", "Tax Rate", "Active",
}

// ExportProductsToXlsx writes the tenant's live products to a spreadsheet.
// Callers own closing the returned file.
func ExportProductsToXlsx(ctx context.Context, clientId string) (*excelize.File, error) {

	db := config.GetDB()
	var products []*Product
	err := db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		Order("product_code").
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	for col, title := range productExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}

	for i, p := range products {
		row := []interface{}{
			p.ProductCode,
			p.Name,
			p.Description,
			p.Category.Name,
			p.Unit.Name,
			joinList(p.Brands),
			joinList(p.Variants),
			p.Barcode,
			p.Price.String(),
			p.Discount.String(),
			p.TaxRate.String(),
			utils.DereferencePtr(p.IsActive),
		}
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func joinList(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprint(v)
	}
	return out
}
