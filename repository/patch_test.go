package repository

import (
	"testing"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/shopspring/decimal"
)

func TestCategoryUpdates_SkipsNilFields(t *testing.T) {
	name := "Beverages"
	patch := &models.CategoryPatch{Name: &name}
	updates := categoryUpdates(patch)
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d: %v", len(updates), updates)
	}
	if updates["name"] != "Beverages" {
		t.Fatalf("expected name update, got %v", updates)
	}
}

func TestCategoryUpdates_EmptyPatch(t *testing.T) {
	if updates := categoryUpdates(&models.CategoryPatch{}); len(updates) != 0 {
		t.Fatalf("expected no updates for empty patch, got %v", updates)
	}
}

func TestCategoryUpdates_NeverTouchesCategoryCode(t *testing.T) {
	// The immutable check rejects the patch before this map is ever built,
	// but the builder itself must not know the column either.
	code := "BEV"
	name := "Beverages"
	updates := categoryUpdates(&models.CategoryPatch{Name: &name, CategoryCode: &code})
	if _, ok := updates["category_code"]; ok {
		t.Fatal("category_code must never appear in the update map")
	}
}

func TestUnitUpdates_AllFields(t *testing.T) {
	name := "Kilogram"
	abbr := "kg"
	desc := "weight"
	factor := decimal.NewFromInt(1000)
	updates := unitUpdates(&models.UnitPatch{
		Name:             &name,
		Abbreviation:     &abbr,
		Description:      &desc,
		ConversionFactor: &factor,
		IsActive:         utils.NewFalse(),
	})
	for _, col := range []string{"name", "abbreviation", "description", "conversion_factor", "is_active"} {
		if _, ok := updates[col]; !ok {
			t.Fatalf("expected column %q in update map, got %v", col, updates)
		}
	}
	// BaseUnitId goes through reference resolution, not the plain builder.
	if _, ok := updates["base_unit_id"]; ok {
		t.Fatal("base_unit_id must not come from the plain patch builder")
	}
}

func TestProductUpdates_NeverTouchesProductCodeOrSnapshots(t *testing.T) {
	code := "BEV#0001"
	categoryId := 3
	name := "Cola"
	updates := productUpdates(&models.ProductPatch{
		Name:        &name,
		ProductCode: &code,
		CategoryId:  &categoryId,
		Brands:      []string{"Acme"},
	})
	for _, col := range []string{"product_code", "category_id", "category_name", "unit_id", "unit_name"} {
		if _, ok := updates[col]; ok {
			t.Fatalf("column %q must never appear in the plain update map", col)
		}
	}
	if updates["name"] != "Cola" {
		t.Fatalf("expected name update, got %v", updates)
	}
	if _, ok := updates["brands"]; !ok {
		t.Fatalf("expected brands update, got %v", updates)
	}
}

func TestProductUpdates_EmptyBrandsSliceStillUpdates(t *testing.T) {
	// A present-but-empty list clears the column; a nil list leaves it alone.
	updates := productUpdates(&models.ProductPatch{Brands: []string{}})
	if _, ok := updates["brands"]; !ok {
		t.Fatal("empty brands slice should clear the column")
	}
	updates = productUpdates(&models.ProductPatch{})
	if _, ok := updates["brands"]; ok {
		t.Fatal("nil brands must not produce an update")
	}
}
