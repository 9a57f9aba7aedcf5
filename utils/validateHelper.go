package utils

import (
	"context"
	"reflect"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"gorm.io/gorm"
)

// ValidateUniqueActive checks the live-row uniqueness rule on the given
// handle. Pass the owning transaction so the check observes writes made
// earlier in the same transaction. Soft-deleted rows never collide, so
// the scope is deleted_at IS NULL.
//
// This is the friendly pre-check; udx_live_name on the table decides
// races the read cannot see under READ COMMITTED.
func ValidateUniqueActive[T any](ctx context.Context, tx *gorm.DB, clientId string, column string, value interface{}, exceptId interface{}) error {
	var model T
	dbCtx := tx.WithContext(ctx).Model(&model).
		Where("client_id = ?", clientId).
		Where(column+" = ?", value).
		Where("deleted_at IS NULL")
	if !reflect.ValueOf(exceptId).IsZero() {
		dbCtx = dbCtx.Where("NOT id = ?", exceptId)
	}

	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrorDuplicate
	}
	return nil
}

// count records, using WHERE client_id = ? AND $condition
// client_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, clientId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if clientId != "" {
		dbCtx.Where("client_id = ?", clientId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
