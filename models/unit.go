package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

type Unit struct {
	ID int `gorm:"primary_key" json:"id"`
	AuditFields
	Name         string `gorm:"index;size:100;not null;uniqueIndex:udx_live_name,priority:2" json:"name" binding:"required"`
	Abbreviation string `gorm:"size:20" json:"abbreviation"`
	Description  string `gorm:"size:500" json:"description"`
	// BaseUnit snapshots the unit this one converts from. Zero Id = no base.
	BaseUnit         RefSnapshot     `gorm:"embedded;embeddedPrefix:base_unit_" json:"base_unit"`
	ConversionFactor decimal.Decimal `gorm:"type:decimal(20,6);not null;default:1" json:"conversion_factor"`
}

type NewUnit struct {
	Name             string           `json:"name" binding:"required"`
	Abbreviation     string           `json:"abbreviation"`
	Description      string           `json:"description"`
	BaseUnitId       int              `json:"baseUnitId"`
	ConversionFactor *decimal.Decimal `json:"conversionFactor"`
}

type UnitPatch struct {
	Name             *string          `json:"name"`
	Abbreviation     *string          `json:"abbreviation"`
	Description      *string          `json:"description"`
	BaseUnitId       *int             `json:"baseUnitId"`
	ConversionFactor *decimal.Decimal `json:"conversionFactor"`
	IsActive         *bool            `json:"isActive"`
}

type UnitFilter struct {
	Name         *string `json:"name" form:"name"`
	Abbreviation *string `json:"abbreviation" form:"abbreviation"`
	BaseUnitId   *int    `json:"baseUnitId" form:"baseUnitId"`
}

// UnitGroup is one conversion family: all units sharing a base unit,
// smallest conversion factor first. BaseUnitId is nil for units that have
// no base (they form the leading group).
type UnitGroup struct {
	BaseUnitId *int    `json:"base_unit_id"`
	Units      []*Unit `json:"units"`
}

// GroupUnitsByBase folds a flat unit list into conversion families.
// The no-base group comes first, remaining groups ascend by base unit id,
// and units inside a group ascend by conversion factor.
func GroupUnitsByBase(units []*Unit) []*UnitGroup {
	byBase := make(map[int][]*Unit)
	for _, u := range units {
		byBase[u.BaseUnit.Id] = append(byBase[u.BaseUnit.Id], u)
	}

	keys := make([]int, 0, len(byBase))
	for k := range byBase {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	groups := make([]*UnitGroup, 0, len(keys))
	for _, k := range keys {
		members := byBase[k]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].ConversionFactor.LessThan(members[j].ConversionFactor)
		})
		group := &UnitGroup{Units: members}
		if k != 0 {
			baseId := k
			group.BaseUnitId = &baseId
		}
		groups = append(groups, group)
	}
	return groups
}
