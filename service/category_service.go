package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/repository"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

// categoryCacheTTL bounds how long a cached category read may lag the
// database. Product snapshots never read through this cache; the product
// repository re-reads inside its own transaction.
const categoryCacheTTL = 10 * time.Minute

func categoryCacheKey(clientId string, id int) string {
	return fmt.Sprintf("category:%s:%d", clientId, id)
}

// CategoryService owns the transaction for every category mutation. A
// rename spans two tables (bulk product snapshot refresh + the category
// row), so the service is the single lexical owner: both writes and the
// outbox record commit together or not at all.
type CategoryService struct {
	db         *gorm.DB
	categories *repository.CategoryRepo
	products   *repository.ProductRepo
}

func NewCategoryService(db *gorm.DB, categories *repository.CategoryRepo, products *repository.ProductRepo) *CategoryService {
	return &CategoryService{db: db, categories: categories, products: products}
}

func (s *CategoryService) Create(ctx context.Context, input *models.NewCategory) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	category, err := s.categories.Create(ctx, tx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, category.ID,
		models.CatalogEntityCategory, models.CatalogEventActionCreate, nil, category); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return category, nil
}

func (s *CategoryService) FindMany(ctx context.Context, filter *models.CategoryFilter) ([]*models.Category, error) {
	return s.categories.FindMany(ctx, filter)
}

// FindById reads through a short-lived Redis cache. Misses and cache
// errors fall back to the database; not-found is never cached.
func (s *CategoryService) FindById(ctx context.Context, id int) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	var cached models.Category
	if hit, err := config.GetRedisObject(categoryCacheKey(clientId, id), &cached); err == nil && hit {
		return &cached, nil
	}

	category, err := s.categories.FindById(ctx, id)
	if err != nil || category == nil {
		return category, err
	}
	_ = config.SetRedisObject(categoryCacheKey(clientId, id), category, categoryCacheTTL)
	return category, nil
}

// Update renames cascade-first: the products' cached category_name is
// refreshed in bulk, then the category row itself is updated, all inside
// one service-owned transaction. Any failure rolls back both.
func (s *CategoryService) Update(ctx context.Context, id int, patch *models.CategoryPatch) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	oldCategory, err := s.categories.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if oldCategory == nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	if patch.Name != nil && *patch.Name != oldCategory.Name {
		if err := s.products.BulkRenameCategory(ctx, tx, id, *patch.Name); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	category, err := s.categories.Update(ctx, tx, id, patch)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := models.AppendCatalogEvent(ctx, tx, clientId, category.ID,
		models.CatalogEntityCategory, models.CatalogEventActionUpdate, oldCategory, category); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	_ = config.RemoveRedisKey(categoryCacheKey(clientId, id))
	return category, nil
}

// Delete soft-deletes the category only. Referencing products keep their
// cached snapshot; deletes never cascade.
func (s *CategoryService) Delete(ctx context.Context, id int) (*models.Category, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	category, err := s.categories.SoftDelete(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, category.ID,
		models.CatalogEntityCategory, models.CatalogEventActionDelete, category, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	_ = config.RemoveRedisKey(categoryCacheKey(clientId, id))
	return category, nil
}
