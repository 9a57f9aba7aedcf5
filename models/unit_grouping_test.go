package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"github.com/shopspring/decimal"
)

func unitFor(id int, name string, baseUnitId int, factor int64) *models.Unit {
	u := &models.Unit{
		ID:               id,
		Name:             name,
		ConversionFactor: decimal.NewFromInt(factor),
	}
	if baseUnitId != 0 {
		u.BaseUnit = models.RefSnapshot{Id: baseUnitId, Name: "base"}
	}
	return u
}

func TestGroupUnitsByBase_NoBaseGroupComesFirst(t *testing.T) {
	units := []*models.Unit{
		unitFor(4, "Carton", 1, 24),
		unitFor(1, "Piece", 0, 1),
		unitFor(3, "Dozen", 1, 12),
		unitFor(2, "Kilogram", 0, 1),
	}

	groups := models.GroupUnitsByBase(units)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	if groups[0].BaseUnitId != nil {
		t.Fatalf("expected first group to have nil base unit id, got %d", *groups[0].BaseUnitId)
	}
	if len(groups[0].Units) != 2 {
		t.Fatalf("expected 2 base-less units, got %d", len(groups[0].Units))
	}

	if groups[1].BaseUnitId == nil || *groups[1].BaseUnitId != 1 {
		t.Fatalf("expected second group base unit id 1, got %v", groups[1].BaseUnitId)
	}
	// Within a family, smaller conversion factor first.
	if groups[1].Units[0].Name != "Dozen" || groups[1].Units[1].Name != "Carton" {
		t.Fatalf("expected [Dozen Carton], got [%s %s]", groups[1].Units[0].Name, groups[1].Units[1].Name)
	}
}

func TestGroupUnitsByBase_GroupsAscendByBaseId(t *testing.T) {
	units := []*models.Unit{
		unitFor(10, "Case", 7, 6),
		unitFor(11, "Pack", 3, 4),
		unitFor(12, "Box", 7, 12),
	}

	groups := models.GroupUnitsByBase(units)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if *groups[0].BaseUnitId != 3 || *groups[1].BaseUnitId != 7 {
		t.Fatalf("expected base ids [3 7], got [%d %d]", *groups[0].BaseUnitId, *groups[1].BaseUnitId)
	}
}

func TestGroupUnitsByBase_StableForEqualFactors(t *testing.T) {
	units := []*models.Unit{
		unitFor(21, "First", 5, 10),
		unitFor(22, "Second", 5, 10),
	}
	groups := models.GroupUnitsByBase(units)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Units[0].ID != 21 || groups[0].Units[1].ID != 22 {
		t.Fatalf("equal factors must keep input order, got [%d %d]", groups[0].Units[0].ID, groups[0].Units[1].ID)
	}
}

func TestGroupUnitsByBase_Empty(t *testing.T) {
	if groups := models.GroupUnitsByBase(nil); len(groups) != 0 {
		t.Fatalf("expected no groups for empty input, got %d", len(groups))
	}
}
