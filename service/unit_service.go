package service

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/repository"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

// UnitService mirrors CategoryService: one service-owned transaction per
// mutation, rename cascade into product unit snapshots before the unit row
// update.
type UnitService struct {
	db       *gorm.DB
	units    *repository.UnitRepo
	products *repository.ProductRepo
}

func NewUnitService(db *gorm.DB, units *repository.UnitRepo, products *repository.ProductRepo) *UnitService {
	return &UnitService{db: db, units: units, products: products}
}

func (s *UnitService) Create(ctx context.Context, input *models.NewUnit) (*models.Unit, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	unit, err := s.units.Create(ctx, tx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, unit.ID,
		models.CatalogEntityUnit, models.CatalogEventActionCreate, nil, unit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return unit, nil
}

func (s *UnitService) FindMany(ctx context.Context, filter *models.UnitFilter) ([]*models.UnitGroup, error) {
	return s.units.FindMany(ctx, filter)
}

func (s *UnitService) FindById(ctx context.Context, id int) (*models.Unit, error) {
	return s.units.FindById(ctx, id)
}

func (s *UnitService) Update(ctx context.Context, id int, patch *models.UnitPatch) (*models.Unit, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	oldUnit, err := s.units.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if oldUnit == nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	if patch.Name != nil && *patch.Name != oldUnit.Name {
		if err := s.products.BulkRenameUnit(ctx, tx, id, *patch.Name); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	unit, err := s.units.Update(ctx, tx, id, patch)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := models.AppendCatalogEvent(ctx, tx, clientId, unit.ID,
		models.CatalogEntityUnit, models.CatalogEventActionUpdate, oldUnit, unit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return unit, nil
}

func (s *UnitService) Delete(ctx context.Context, id int) (*models.Unit, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	unit, err := s.units.SoftDelete(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.AppendCatalogEvent(ctx, tx, clientId, unit.ID,
		models.CatalogEntityUnit, models.CatalogEventActionDelete, unit, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return unit, nil
}
