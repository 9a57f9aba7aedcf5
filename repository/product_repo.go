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
	"gorm.io/gorm/clause"
)

// createMaxAttempts bounds the retry loop around product create. Retries
// happen on lock-wait/deadlock and on the counter seed race (1062).
const createMaxAttempts = 3

// ProductRepo is the only writer of the products table and the product
// code counter. The service layer passes categories and units in
// pre-validated; the repo re-reads them under a shared lock inside its
// transaction before snapshotting.
type ProductRepo struct {
	db *gorm.DB
}

func NewProductRepo(db *gorm.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

// Create allocates the product code under the per-(tenant, category)
// counter row lock and inserts the product. With a caller-supplied tx it
// runs a single attempt inside it (the caller owns retries along with its
// other writes); with tx nil it owns a fresh transaction per attempt and
// retries transient conflicts itself.
func (r *ProductRepo) Create(ctx context.Context, tx *gorm.DB, category *models.Category, unit *models.Unit, input *models.NewProduct) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}
	if category == nil || unit == nil {
		return nil, utils.ErrorReferenceIntegrity
	}

	if tx != nil {
		return r.create(ctx, tx, clientId, category, unit, input)
	}

	var lastErr error
	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		ownTx := r.db.WithContext(ctx).Begin()
		if ownTx.Error != nil {
			return nil, ownTx.Error
		}
		product, err := r.create(ctx, ownTx, clientId, category, unit, input)
		if err == nil {
			err = ownTx.Commit().Error
			if err == nil {
				return product, nil
			}
		}
		ownTx.Rollback()
		if utils.IsRetryableTxError(err) || utils.IsDuplicateKeyError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", utils.ErrorTransactionAborted, lastErr)
}

func (r *ProductRepo) create(ctx context.Context, tx *gorm.DB, clientId string, category *models.Category, unit *models.Unit, input *models.NewProduct) (*models.Product, error) {

	actor, _ := utils.GetUserIdFromContext(ctx)

	if err := utils.ValidateUniqueActive[models.Product](ctx, tx, clientId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	// The service resolved the references outside this transaction; a rename
	// committed in between would leave a stale snapshot. Re-read both rows
	// FOR SHARE so the snapshot and the rename cascade serialize.
	category, err := lockCategoryShared(ctx, tx, clientId, category.ID)
	if err != nil {
		return nil, err
	}
	unit, err = lockUnitShared(ctx, tx, clientId, unit.ID)
	if err != nil {
		return nil, err
	}

	seq, err := nextProductSeq(ctx, tx, clientId, category.ID)
	if err != nil {
		return nil, err
	}

	product := models.Product{
		AuditFields: models.AuditFields{
			ClientId:  clientId,
			IsActive:  utils.NewTrue(),
			CreatedBy: actor,
			UpdatedBy: actor,
		},
		Name:        input.Name,
		ProductCode: models.FormatProductCode(category.CategoryCode, seq),
		Description: input.Description,
		Category:    models.RefSnapshot{Id: category.ID, Name: category.Name},
		Unit:        models.RefSnapshot{Id: unit.ID, Name: unit.Name},
		Brands:      input.Brands,
		Variants:    input.Variants,
		Barcode:     input.Barcode,
		Price:       decimalOrZero(input.Price),
		Discount:    decimalOrZero(input.Discount),
		TaxRate:     decimalOrZero(input.TaxRate),
	}
	if err := tx.Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// lockCategoryShared re-reads the category FOR SHARE inside the product
// transaction. The shared lock blocks a concurrent rename until this
// transaction commits, so the snapshot written here cannot go stale in
// the resolve-to-insert window.
func lockCategoryShared(ctx context.Context, tx *gorm.DB, clientId string, id int) (*models.Category, error) {
	var category models.Category
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&category, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("category: %w", utils.ErrorRecordNotFound)
		}
		return nil, err
	}
	return &category, nil
}

// lockUnitShared is lockCategoryShared for the unit reference.
func lockUnitShared(ctx context.Context, tx *gorm.DB, clientId string, id int) (*models.Unit, error) {
	var unit models.Unit
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&unit, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unit: %w", utils.ErrorRecordNotFound)
		}
		return nil, err
	}
	return &unit, nil
}

// nextProductSeq hands out the next sequence number for the category. The
// counter row is read FOR UPDATE so concurrent creates in the same category
// serialize; the first use seeds the counter from the full product count
// (soft-deleted rows included, codes are never reused). A losing seed
// insert surfaces 1062 and the caller retries.
func nextProductSeq(ctx context.Context, tx *gorm.DB, clientId string, categoryId int) (int, error) {

	var seq models.ProductCodeSequence
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ? AND category_id = ?", clientId, categoryId).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var count int64
		if err := tx.WithContext(ctx).Model(&models.Product{}).
			Where("client_id = ? AND category_id = ?", clientId, categoryId).
			Count(&count).Error; err != nil {
			return 0, err
		}
		n := int(count) + 1
		seq = models.ProductCodeSequence{ClientId: clientId, CategoryId: categoryId, NextSeq: n + 1}
		if err := tx.Create(&seq).Error; err != nil {
			return 0, err
		}
		return n, nil
	}
	if err != nil {
		return 0, err
	}

	n := seq.NextSeq
	if err := tx.WithContext(ctx).Model(&models.ProductCodeSequence{}).
		Where("client_id = ? AND category_id = ?", clientId, categoryId).
		Update("next_seq", n+1).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ProductRepo) FindMany(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {

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
		if filter.CategoryId != nil && *filter.CategoryId > 0 {
			dbCtx = dbCtx.Where("category_id = ?", *filter.CategoryId)
		}
		if filter.Brand != nil && *filter.Brand != "" {
			dbCtx = dbCtx.Where("JSON_CONTAINS(brands, JSON_QUOTE(?))", *filter.Brand)
		}
	}

	var results []*models.Product
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindById returns (nil, nil) when the id does not resolve for the tenant.
func (r *ProductRepo) FindById(ctx context.Context, id int) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}

	var product models.Product
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// Update rejects ProductCode changes. A non-nil category/unit means the
// service re-resolved the reference and the snapshot is refreshed along
// with the patch. Same transaction participation contract as the other
// repos.
func (r *ProductRepo) Update(ctx context.Context, tx *gorm.DB, id int, patch *models.ProductPatch, category *models.Category, unit *models.Unit) (*models.Product, error) {

	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return nil, errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	if patch.ProductCode != nil {
		return nil, fmt.Errorf("productCode: %w", utils.ErrorImmutableField)
	}

	owns := tx == nil
	if owns {
		tx = r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}
	}
	fail := func(err error) (*models.Product, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var product models.Product
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	updates := productUpdates(patch)
	if category != nil {
		category, err = lockCategoryShared(ctx, tx, clientId, category.ID)
		if err != nil {
			return fail(err)
		}
		updates["category_id"] = category.ID
		updates["category_name"] = category.Name
	}
	if unit != nil {
		unit, err = lockUnitShared(ctx, tx, clientId, unit.ID)
		if err != nil {
			return fail(err)
		}
		updates["unit_id"] = unit.ID
		updates["unit_name"] = unit.Name
	}
	if len(updates) == 0 {
		return fail(utils.ErrorNoUpdate)
	}

	if patch.Name != nil && *patch.Name != product.Name {
		if err := utils.ValidateUniqueActive[models.Product](ctx, tx, clientId, "name", *patch.Name, id); err != nil {
			return fail(err)
		}
	}

	updates["updated_by"] = actor
	if err := tx.Model(&product).Updates(updates).Error; err != nil {
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
	return &product, nil
}

func (r *ProductRepo) SoftDelete(ctx context.Context, tx *gorm.DB, id int) (*models.Product, error) {

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
	fail := func(err error) (*models.Product, error) {
		if owns {
			tx.Rollback()
		}
		return nil, err
	}

	var product models.Product
	err := tx.WithContext(ctx).
		Where("client_id = ?", clientId).
		Where("deleted_at IS NULL").
		First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(utils.ErrorRecordNotFound)
		}
		return fail(err)
	}

	now := time.Now().UTC()
	if err := tx.Model(&product).Updates(map[string]interface{}{
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
	return &product, nil
}

// BulkRenameCategory refreshes the cached category name on every product
// of the category (soft-deleted rows included) in one set-based UPDATE.
// It always runs inside the caller's transaction.
func (r *ProductRepo) BulkRenameCategory(ctx context.Context, tx *gorm.DB, categoryId int, newName string) error {
	if tx == nil {
		return errors.New("bulk rename requires a transaction")
	}
	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	return tx.WithContext(ctx).Model(&models.Product{}).
		Where("client_id = ? AND category_id = ?", clientId, categoryId).
		Updates(map[string]interface{}{
			"category_name": newName,
			"updated_by":    actor,
		}).Error
}

// BulkRenameUnit is BulkRenameCategory for the unit snapshot.
func (r *ProductRepo) BulkRenameUnit(ctx context.Context, tx *gorm.DB, unitId int, newName string) error {
	if tx == nil {
		return errors.New("bulk rename requires a transaction")
	}
	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return errors.New("client id is required")
	}
	actor, _ := utils.GetUserIdFromContext(ctx)

	return tx.WithContext(ctx).Model(&models.Product{}).
		Where("client_id = ? AND unit_id = ?", clientId, unitId).
		Updates(map[string]interface{}{
			"unit_name":  newName,
			"updated_by": actor,
		}).Error
}

// CountByCategory counts live products referencing the category.
func (r *ProductRepo) CountByCategory(ctx context.Context, categoryId int) (int64, error) {
	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return 0, errors.New("client id is required")
	}
	return utils.ResourceCountWhere[models.Product](ctx, clientId, "category_id = ? AND deleted_at IS NULL", categoryId)
}

// CountByUnit counts live products referencing the unit.
func (r *ProductRepo) CountByUnit(ctx context.Context, unitId int) (int64, error) {
	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		return 0, errors.New("client id is required")
	}
	return utils.ResourceCountWhere[models.Product](ctx, clientId, "unit_id = ? AND deleted_at IS NULL", unitId)
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func productUpdates(patch *models.ProductPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Brands != nil {
		updates["brands"] = patch.Brands
	}
	if patch.Variants != nil {
		updates["variants"] = patch.Variants
	}
	if patch.Barcode != nil {
		updates["barcode"] = *patch.Barcode
	}
	if patch.Price != nil {
		updates["price"] = *patch.Price
	}
	if patch.Discount != nil {
		updates["discount"] = *patch.Discount
	}
	if patch.TaxRate != nil {
		updates["tax_rate"] = *patch.TaxRate
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	return updates
}
