package service

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/repository"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

// createMaxAttempts bounds the retry loop around product create; each
// attempt is a fresh transaction.
const createMaxAttempts = 3

// ProductService is the only component that knows products, categories and
// units at once. It resolves references before any product write and hands
// validated snapshots down to the product repository.
type ProductService struct {
	db         *gorm.DB
	products   *repository.ProductRepo
	categories *repository.CategoryRepo
	units      *repository.UnitRepo
}

func NewProductService(db *gorm.DB, products *repository.ProductRepo, categories *repository.CategoryRepo, units *repository.UnitRepo) *ProductService {
	return &ProductService{db: db, products: products, categories: categories, units: units}
}

// Create validates the category and unit references first; nothing is
// written when either is missing. The insert, code allocation and outbox
// record share one transaction, retried on transient conflicts. Creates
// for a tenant serialize on a Redis lock so concurrent submits of the
// same payload fail fast instead of burning retry attempts on the
// counter row.
func (s *ProductService) Create(ctx context.Context, input *models.NewProduct) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	release, err := utils.ClientLock(ctx, clientId, "product-create", "ProductService", "Create")
	if err != nil {
		return nil, err
	}
	defer release()

	category, err := s.categories.FindById(ctx, input.CategoryId)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, fmt.Errorf("category: %w", utils.ErrorRecordNotFound)
	}
	unit, err := s.units.FindById(ctx, input.UnitId)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("unit: %w", utils.ErrorRecordNotFound)
	}

	var lastErr error
	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		tx := s.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}

		product, err := s.products.Create(ctx, tx, category, unit, input)
		if err == nil {
			err = models.AppendCatalogEvent(ctx, tx, clientId, product.ID,
				models.CatalogEntityProduct, models.CatalogEventActionCreate, nil, product)
		}
		if err == nil {
			err = tx.Commit().Error
			if err == nil {
				return product, nil
			}
		}
		tx.Rollback()

		if utils.IsRetryableTxError(err) || utils.IsDuplicateKeyError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", utils.ErrorTransactionAborted, lastErr)
}

func (s *ProductService) FindMany(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {
	return s.products.FindMany(ctx, filter)
}

func (s *ProductService) FindById(ctx context.Context, id int) (*models.Product, error) {
	return s.products.FindById(ctx, id)
}

// Update re-resolves CategoryId/UnitId when the patch carries them and
// refreshes the stored snapshots along with the rest of the patch.
func (s *ProductService) Update(ctx context.Context, id int, patch *models.ProductPatch) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	oldProduct, err := s.products.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if oldProduct == nil {
		return nil, utils.ErrorRecordNotFound
	}

	var category *models.Category
	if patch.CategoryId != nil {
		category, err = s.categories.FindById(ctx, *patch.CategoryId)
		if err != nil {
			return nil, err
		}
		if category == nil {
			return nil, fmt.Errorf("category: %w", utils.ErrorRecordNotFound)
		}
	}
	var unit *models.Unit
	if patch.UnitId != nil {
		unit, err = s.units.FindById(ctx, *patch.UnitId)
		if err != nil {
			return nil, err
		}
		if unit == nil {
			return nil, fmt.Errorf("unit: %w", utils.ErrorRecordNotFound)
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	product, err := s.products.Update(ctx, tx, id, patch, category, unit)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, product.ID,
		models.CatalogEntityProduct, models.CatalogEventActionUpdate, oldProduct, product); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return product, nil
}

func (s *ProductService) Delete(ctx context.Context, id int) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	product, err := s.products.SoftDelete(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, product.ID,
		models.CatalogEntityProduct, models.CatalogEventActionDelete, product, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return product, nil
}

// CountByCategory reports live products in the category.
func (s *ProductService) CountByCategory(ctx context.Context, categoryId int) (int64, error) {
	return s.products.CountByCategory(ctx, categoryId)
}

// CountByUnit reports live products measured in the unit.
func (s *ProductService) CountByUnit(ctx context.Context, unitId int) (int64, error) {
	return s.products.CountByUnit(ctx, unitId)
}
