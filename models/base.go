package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/google/uuid"
)

// AuditFields is embedded in every catalog entity. DeletedAt is a plain
// nullable timestamp, not gorm.DeletedAt: soft-deleted rows must stay
// visible to explicit queries (uniqueness history, code sequences).
//
// LiveRow is a stored generated column: 1 while the row is live, NULL once
// soft deleted. udx_live_name over (client_id, name, live_row) is the
// authoritative per-tenant name uniqueness rule: unique indexes skip rows
// with a NULL component, so any number of soft-deleted rows may share a
// name while live rows collide with 1062.
type AuditFields struct {
	ClientId  string     `gorm:"size:64;not null;index;uniqueIndex:udx_live_name,priority:1" json:"client_id"`
	IsActive  *bool      `gorm:"not null;default:true" json:"is_active"`
	DeletedAt *time.Time `gorm:"index" json:"deleted_at"`
	LiveRow   *int8      `gorm:"->;type:tinyint GENERATED ALWAYS AS (IF(deleted_at IS NULL, 1, NULL)) STORED;uniqueIndex:udx_live_name,priority:3" json:"-"`
	CreatedBy string     `gorm:"size:64" json:"created_by"`
	UpdatedBy string     `gorm:"size:64" json:"updated_by"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a AuditFields) IsDeleted() bool {
	return a.DeletedAt != nil
}

// RefSnapshot is the denormalized {id, name} cache a product keeps of its
// category and unit. It is written at create/relink time and refreshed only
// by the rename cascade. Id 0 means no reference.
type RefSnapshot struct {
	Id   int    `json:"id"`
	Name string `gorm:"size:100" json:"name"`
}

func (r RefSnapshot) IsZero() bool {
	return r.Id == 0
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
