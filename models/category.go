package models

type Category struct {
	ID int `gorm:"primary_key" json:"id"`
	AuditFields
	Name string `gorm:"index;size:100;not null;uniqueIndex:udx_live_name,priority:2" json:"name" binding:"required"`
	// CategoryCode is the prefix of every product code in the category.
	// Immutable after create.
	CategoryCode string `gorm:"index;size:20;not null" json:"category_code" binding:"required"`
	Description  string `gorm:"size:500" json:"description"`
	// ParentCategory is a free-form reference kept as entered; no existence
	// check and no hierarchy maintenance.
	ParentCategory string `gorm:"size:100" json:"parent_category"`
}

type NewCategory struct {
	Name           string `json:"name" binding:"required"`
	CategoryCode   string `json:"categoryCode" binding:"required"`
	Description    string `json:"description"`
	ParentCategory string `json:"parentCategory"`
}

// CategoryPatch carries partial updates; nil means "leave unchanged".
// CategoryCode is present only so an attempted change can be rejected.
type CategoryPatch struct {
	Name           *string `json:"name"`
	CategoryCode   *string `json:"categoryCode"`
	Description    *string `json:"description"`
	ParentCategory *string `json:"parentCategory"`
	IsActive       *bool   `json:"isActive"`
}

type CategoryFilter struct {
	Name           *string `json:"name" form:"name"`
	CategoryCode   *string `json:"categoryCode" form:"categoryCode"`
	ParentCategory *string `json:"parentCategory" form:"parentCategory"`
}
