package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

// CategoryRepo is the only writer of the categories table. Update and
// SoftDelete participate in a caller-supplied transaction: when tx is nil
// the repo opens and commits its own, otherwise it never commits or rolls
// back what it does not own.
type CategoryRepo struct {
	db *gorm.DB
}

func NewCategoryRepo(db *gorm.DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Create(ctx context.Context, tx *gorm.DB, input *models.NewCategory) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	owns := tx == nil
	if owns {
		tx = r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}
	}
	fail := func(err error) (*models.Category, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	if err := utils.ValidateUniqueActive[models.Category](ctx, tx, clientId, "name", input.Name, 0); err != nil {
		return fail(err)
	}

	category := models.Category{
		AuditFields: models.AuditFields{
			ClientId:  clientId,
			IsActive:  utils.NewTrue(),
			CreatedBy: actor,
			UpdatedBy: actor,
		},
		Name:           input.Name,
		CategoryCode:   input.CategoryCode,
		Description:    input.Description,
		ParentCategory: input.ParentCategory,
	}
	if err := tx.Create(&category).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			return fail(utils.ErrorDuplicate)
		}
		return fail(err)
	}

	if owns {
		if err := tx.Commit().Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return &category, nil
}

func (r *CategoryRepo) FindMany(ctx context.Context, filter *models.CategoryFilter) ([]*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	dbCtx := r.db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL")
	if filter != nil {
		if filter.Name != nil && *filter.Name != "" {
			dbCtx = dbCtx.Where("name LIKE ?", "%"+*filter.Name+"%")
		}
		if filter.CategoryCode != nil && *filter.CategoryCode != "" {
			dbCtx = dbCtx.Where("category_code = ?", *filter.CategoryCode)
		}
		if filter.ParentCategory != nil && *filter.ParentCategory != "" {
			dbCtx = dbCtx.Where("parent_category = ?", *filter.ParentCategory)
		}
	}

	var results []*models.Category
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindById returns (nil, nil) when the id does not resolve for the tenant.
func (r *CategoryRepo) FindById(ctx context.Context, id int) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	var category models.Category
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&category, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &category, nil
}

func (r *CategoryRepo) Update(ctx context.Context, tx *gorm.DB, id int, patch *models.CategoryPatch) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	if patch.CategoryCode != nil {
		return nil, fmt.Errorf("categoryCode: %w", utils.ErrorImmutableField)
	}

	owns := tx == nil
	if owns {
		tx = r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}
	}
	fail := func(err error) (*models.Category, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var category models.Category
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&category, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	updates := categoryUpdates(patch)
	if len(updates) == 0 {
		return fail(utils.ErrorNoUpdate)
	}

	if patch.Name != nil && *patch.Name != category.Name {
		if err := utils.ValidateUniqueActive[models.Category](ctx, tx, clientId, "name", *patch.Name, id); err != nil {
			return fail(err)
		}
	}

	updates["updated_by"] = actor
	if err := tx.Model(&category).Updates(updates).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			return fail(utils.ErrorDuplicate)
		}
		return fail(err)
	}

	if owns {
		if err := tx.Commit().Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return &category, nil
}

// SoftDelete marks the row deleted. Deleted rows keep their name slot free
// for reuse and never transition back.
func (r *CategoryRepo) SoftDelete(ctx context.Context, tx *gorm.DB, id int) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	owns := tx == nil
	if owns {
		tx = r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}
	}
	fail := func(err error) (*models.Category, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var category models.Category
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&category, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	now := time.Now().UTC()
	if err := tx.Model(&category).Updates(map[string]interface{}{
		"deleted_at": now,
		"is_active":  false,
		"updated_by": actor,
	}).Error; err != nil {
		return fail(err)
	}

	if owns {
		if err := tx.Commit().Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return &category, nil
}

func categoryUpdates(patch *models.CategoryPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ParentCategory != nil {
		updates["parent_category"] = *patch.ParentCategory
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	return updates
}
