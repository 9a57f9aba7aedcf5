package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UnitRepo is the only writer of the units table. Same transaction
// participation contract as CategoryRepo.
type UnitRepo struct {
	db *gorm.DB
}

func NewUnitRepo(db *gorm.DB) *UnitRepo {
	return &UnitRepo{db: db}
}

func (r *UnitRepo) Create(ctx context.Context, tx *gorm.DB, input *models.NewUnit) (*models.Unit, error) {

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
	fail := func(err error) (*models.Unit, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	if err := utils.ValidateUniqueActive[models.Unit](ctx, tx, clientId, "name", input.Name, 0); err != nil {
		return fail(err)
	}

	baseUnit, err := resolveBaseUnit(ctx, tx, clientId, input.BaseUnitId)
	if err != nil {
		return fail(err)
	}

	factor := decimal.NewFromInt(1)
	if input.ConversionFactor != nil {
		factor = *input.ConversionFactor
	}

	unit := models.Unit{
		AuditFields: models.AuditFields{
			ClientId:  clientId,
			IsActive:  utils.NewTrue(),
			CreatedBy: actor,
			UpdatedBy: actor,
		},
		Name:             input.Name,
		Abbreviation:     input.Abbreviation,
		Description:      input.Description,
		BaseUnit:         baseUnit,
		ConversionFactor: factor,
	}
	if err := tx.Create(&unit).Error; err != nil {
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
	return &unit, nil
}

// FindMany returns units folded into conversion families: the SQL orders by
// base_unit_id then conversion_factor and the fold happens in Go, with the
// no-base family first.
func (r *UnitRepo) FindMany(ctx context.Context, filter *models.UnitFilter) ([]*models.UnitGroup, error) {

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
		if filter.Abbreviation != nil && *filter.Abbreviation != "" {
			dbCtx = dbCtx.Where("abbreviation LIKE ?", "%"+*filter.Abbreviation+"%")
		}
		if filter.BaseUnitId != nil && *filter.BaseUnitId > 0 {
			dbCtx = dbCtx.Where("base_unit_id = ?", *filter.BaseUnitId)
		}
	}

	var units []*models.Unit
	if err := dbCtx.Order("base_unit_id, conversion_factor").Find(&units).Error; err != nil {
		return nil, err
	}
	return models.GroupUnitsByBase(units), nil
}

// FindById returns (nil, nil) when the id does not resolve for the tenant.
func (r *UnitRepo) FindById(ctx context.Context, id int) (*models.Unit, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	var unit models.Unit
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&unit, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

func (r *UnitRepo) Update(ctx context.Context, tx *gorm.DB, id int, patch *models.UnitPatch) (*models.Unit, error) {

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
	fail := func(err error) (*models.Unit, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var unit models.Unit
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&unit, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	updates := unitUpdates(patch)
	if patch.BaseUnitId != nil {
		if *patch.BaseUnitId == id {
			return fail(fmt.Errorf("baseUnitId: %w", utils.ErrorReferenceIntegrity))
		}
		baseUnit, err := resolveBaseUnit(ctx, tx, clientId, *patch.BaseUnitId)
		if err != nil {
			return fail(err)
		}
		updates["base_unit_id"] = baseUnit.Id
		updates["base_unit_name"] = baseUnit.Name
	}
	if len(updates) == 0 {
		return fail(utils.ErrorNoUpdate)
	}

	if patch.Name != nil && *patch.Name != unit.Name {
		if err := utils.ValidateUniqueActive[models.Unit](ctx, tx, clientId, "name", *patch.Name, id); err != nil {
			return fail(err)
		}
	}

	updates["updated_by"] = actor
	if err := tx.Model(&unit).Updates(updates).Error; err != nil {
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
	return &unit, nil
}

func (r *UnitRepo) SoftDelete(ctx context.Context, tx *gorm.DB, id int) (*models.Unit, error) {

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
	fail := func(err error) (*models.Unit, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var unit models.Unit
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&unit, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	now := time.Now().UTC()
	if err := tx.Model(&unit).Updates(map[string]interface{}{
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
	return &unit, nil
}

// resolveBaseUnit snapshots {id, name} of the referenced base unit.
// Zero id means no base and resolves to the zero snapshot.
func resolveBaseUnit(ctx context.Context, tx *gorm.DB, clientId string, baseUnitId int) (models.RefSnapshot, error) {
	if baseUnitId == 0 {
		return models.RefSnapshot{}, nil
	}
	var base models.Unit
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&base, baseUnitId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RefSnapshot{}, fmt.Errorf("base unit: %w", utils.ErrorRecordNotFound)
		}
		return models.RefSnapshot{}, err
	}
	return models.RefSnapshot{Id: base.ID, Name: base.Name}, nil
}

func unitUpdates(patch *models.UnitPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Abbreviation != nil {
		updates["abbreviation"] = *patch.Abbreviation
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ConversionFactor != nil {
		updates["conversion_factor"] = *patch.ConversionFactor
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	return updates
}
