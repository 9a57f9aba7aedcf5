package service_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/repository"
	"bitbucket.org/mmdatafocus/catalog_backend/service"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type catalogServices struct {
	categories *service.CategoryService
	units      *service.UnitService
	products   *service.ProductService
}

func setupCatalog(t *testing.T) *catalogServices {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "catalog_test")
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:"+redisPort)

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	categoryRepo := repository.NewCategoryRepo(db)
	unitRepo := repository.NewUnitRepo(db)
	productRepo := repository.NewProductRepo(db)
	return &catalogServices{
		categories: service.NewCategoryService(db, categoryRepo, productRepo),
		units:      service.NewUnitService(db, unitRepo, productRepo),
		products:   service.NewProductService(db, productRepo, categoryRepo, unitRepo),
	}
}

func tenantContext(clientId string) context.Context {
	ctx := utils.SetClientIdInContext(context.Background(), clientId)
	ctx = utils.SetUserIdInContext(ctx, "tester")
	return ctx
}

func mustCategory(t *testing.T, ctx context.Context, svc *catalogServices, name, code string) *models.Category {
	t.Helper()
	category, err := svc.categories.Create(ctx, &models.NewCategory{Name: name, CategoryCode: code})
	if err != nil {
		t.Fatalf("create category %s: %v", name, err)
	}
	return category
}

func mustUnit(t *testing.T, ctx context.Context, svc *catalogServices, name string) *models.Unit {
	t.Helper()
	unit, err := svc.units.Create(ctx, &models.NewUnit{Name: name, Abbreviation: strings.ToLower(name[:2])})
	if err != nil {
		t.Fatalf("create unit %s: %v", name, err)
	}
	return unit
}

func mustProduct(t *testing.T, ctx context.Context, svc *catalogServices, name string, categoryId, unitId int) *models.Product {
	t.Helper()
	product, err := svc.products.Create(ctx, &models.NewProduct{
		Name:       name,
		CategoryId: categoryId,
		UnitId:     unitId,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return product
}

func TestCategoryRename_CascadesIntoProductSnapshots(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")
	snacks := mustCategory(t, ctx, svc, "Snacks", "SNK")
	piece := mustUnit(t, ctx, svc, "Piece")

	cola := mustProduct(t, ctx, svc, "Cola", beverages.ID, piece.ID)
	chips := mustProduct(t, ctx, svc, "Chips", snacks.ID, piece.ID)

	newName := "Drinks"
	if _, err := svc.categories.Update(ctx, beverages.ID, &models.CategoryPatch{Name: &newName}); err != nil {
		t.Fatalf("rename category: %v", err)
	}

	got, err := svc.products.FindById(ctx, cola.ID)
	if err != nil {
		t.Fatalf("reload cola: %v", err)
	}
	if got.Category.Name != "Drinks" {
		t.Fatalf("expected cola category snapshot %q, got %q", "Drinks", got.Category.Name)
	}
	if got.Category.Id != beverages.ID {
		t.Fatalf("snapshot id must not change; got %d", got.Category.Id)
	}

	other, err := svc.products.FindById(ctx, chips.ID)
	if err != nil {
		t.Fatalf("reload chips: %v", err)
	}
	if other.Category.Name != "Snacks" {
		t.Fatalf("unrelated product snapshot changed: %q", other.Category.Name)
	}

	// The rename leaves an outbox record behind, committed with the cascade.
	db := config.GetDB()
	var pending int64
	if err := db.WithContext(ctx).Model(&models.CatalogEventRecord{}).
		Where("reference_type = ? AND reference_id = ? AND action = ?",
			models.CatalogEntityCategory, beverages.ID, models.CatalogEventActionUpdate).
		Count(&pending).Error; err != nil {
		t.Fatalf("count outbox records: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 category update outbox record, got %d", pending)
	}
}

func TestUnitRename_CascadesIntoProductSnapshots(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")
	piece := mustUnit(t, ctx, svc, "Piece")
	cola := mustProduct(t, ctx, svc, "Cola", beverages.ID, piece.ID)

	newName := "Each"
	if _, err := svc.units.Update(ctx, piece.ID, &models.UnitPatch{Name: &newName}); err != nil {
		t.Fatalf("rename unit: %v", err)
	}

	got, err := svc.products.FindById(ctx, cola.ID)
	if err != nil {
		t.Fatalf("reload cola: %v", err)
	}
	if got.Unit.Name != "Each" {
		t.Fatalf("expected unit snapshot %q, got %q", "Each", got.Unit.Name)
	}

	count, err := svc.products.CountByUnit(ctx, piece.ID)
	if err != nil {
		t.Fatalf("count by unit: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 product in unit, got %d", count)
	}
}

func TestCategoryRename_ConflictRollsBackCascade(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")
	mustCategory(t, ctx, svc, "Snacks", "SNK")
	piece := mustUnit(t, ctx, svc, "Piece")
	cola := mustProduct(t, ctx, svc, "Cola", beverages.ID, piece.ID)

	// The bulk snapshot refresh runs before the category row update inside
	// one transaction; the name conflict on the row update must undo the
	// already-executed cascade.
	conflict := "Snacks"
	_, err := svc.categories.Update(ctx, beverages.ID, &models.CategoryPatch{Name: &conflict})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
	if code := utils.ErrorCode(err); code != utils.CodeDuplicateKey {
		t.Fatalf("expected %s, got %s (%v)", utils.CodeDuplicateKey, code, err)
	}

	got, err := svc.products.FindById(ctx, cola.ID)
	if err != nil {
		t.Fatalf("reload cola: %v", err)
	}
	if got.Category.Name != "Beverages" {
		t.Fatalf("cascade leaked through rollback: snapshot is %q", got.Category.Name)
	}
	category, err := svc.categories.FindById(ctx, beverages.ID)
	if err != nil {
		t.Fatalf("reload category: %v", err)
	}
	if category.Name != "Beverages" {
		t.Fatalf("category row changed despite rollback: %q", category.Name)
	}
}

func TestProductCodes_SequencePerCategoryNeverReused(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")
	snacks := mustCategory(t, ctx, svc, "Snacks", "SNK")
	piece := mustUnit(t, ctx, svc, "Piece")

	first := mustProduct(t, ctx, svc, "Cola", beverages.ID, piece.ID)
	second := mustProduct(t, ctx, svc, "Juice", beverages.ID, piece.ID)
	third := mustProduct(t, ctx, svc, "Water", beverages.ID, piece.ID)

	if first.ProductCode != "BEV#0001" || second.ProductCode != "BEV#0002" || third.ProductCode != "BEV#0003" {
		t.Fatalf("unexpected codes: %s %s %s", first.ProductCode, second.ProductCode, third.ProductCode)
	}

	// Each category runs its own sequence.
	chips := mustProduct(t, ctx, svc, "Chips", snacks.ID, piece.ID)
	if chips.ProductCode != "SNK#0001" {
		t.Fatalf("expected SNK#0001, got %s", chips.ProductCode)
	}

	// Deleting a product must not free its code.
	if _, err := svc.products.Delete(ctx, third.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	fourth := mustProduct(t, ctx, svc, "Soda", beverages.ID, piece.ID)
	if fourth.ProductCode != "BEV#0004" {
		t.Fatalf("expected BEV#0004 after delete, got %s", fourth.ProductCode)
	}
}

func TestProductCreate_MissingReferenceWritesNothing(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	piece := mustUnit(t, ctx, svc, "Piece")

	_, err := svc.products.Create(ctx, &models.NewProduct{
		Name:       "Ghost",
		CategoryId: 99999,
		UnitId:     piece.ID,
	})
	if err == nil {
		t.Fatal("expected missing category error")
	}
	if code := utils.ErrorCode(err); code != utils.CodeNotFound {
		t.Fatalf("expected %s, got %s (%v)", utils.CodeNotFound, code, err)
	}

	db := config.GetDB()
	var products int64
	if err := db.WithContext(ctx).Model(&models.Product{}).Count(&products).Error; err != nil {
		t.Fatalf("count products: %v", err)
	}
	if products != 0 {
		t.Fatalf("expected no product rows, got %d", products)
	}
	var sequences int64
	if err := db.Model(&models.ProductCodeSequence{}).Count(&sequences).Error; err != nil {
		t.Fatalf("count sequences: %v", err)
	}
	if sequences != 0 {
		t.Fatalf("expected no sequence rows, got %d", sequences)
	}
}

func TestCategoryUniqueness_SoftDeletedNameReusable(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	first := mustCategory(t, ctx, svc, "Drinks", "DR1")

	_, err := svc.categories.Create(ctx, &models.NewCategory{Name: "Drinks", CategoryCode: "DR2"})
	if err == nil {
		t.Fatal("expected duplicate name error while first is live")
	}
	if code := utils.ErrorCode(err); code != utils.CodeDuplicateKey {
		t.Fatalf("expected %s, got %s (%v)", utils.CodeDuplicateKey, code, err)
	}

	if _, err := svc.categories.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	// Soft-deleted rows no longer block the name.
	if _, err := svc.categories.Create(ctx, &models.NewCategory{Name: "Drinks", CategoryCode: "DR2"}); err != nil {
		t.Fatalf("recreate after soft delete: %v", err)
	}
}

func TestCategoryCodeImmutable(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")

	newCode := "BVR"
	newName := "Drinks"
	_, err := svc.categories.Update(ctx, beverages.ID, &models.CategoryPatch{
		Name:         &newName,
		CategoryCode: &newCode,
	})
	if err == nil {
		t.Fatal("expected immutable field error")
	}
	if code := utils.ErrorCode(err); code != utils.CodeImmutableField {
		t.Fatalf("expected %s, got %s (%v)", utils.CodeImmutableField, code, err)
	}

	// Rejection happens before any write; the rest of the patch must not
	// have been applied either.
	got, err := svc.categories.FindById(ctx, beverages.ID)
	if err != nil {
		t.Fatalf("reload category: %v", err)
	}
	if got.Name != "Beverages" || got.CategoryCode != "BEV" {
		t.Fatalf("row changed despite rejection: %s %s", got.Name, got.CategoryCode)
	}
}

func TestTenantIsolation(t *testing.T) {
	svc := setupCatalog(t)
	ctxA := tenantContext(uuid.NewString())
	ctxB := tenantContext(uuid.NewString())

	catA := mustCategory(t, ctxA, svc, "Beverages", "BEV")

	// Same name and code in another tenant is fine.
	mustCategory(t, ctxB, svc, "Beverages", "BEV")

	// Lookups never cross tenants.
	got, err := svc.categories.FindById(ctxB, catA.ID)
	if err != nil {
		t.Fatalf("cross-tenant lookup: %v", err)
	}
	if got != nil && got.ClientId != "" {
		// FindById may hit tenant B's own row if ids collide; what matters
		// is it is never tenant A's row.
		if got.ClientId == catA.ClientId {
			t.Fatal("tenant B read tenant A's category")
		}
	}

	listB, err := svc.categories.FindMany(ctxB, &models.CategoryFilter{})
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	for _, c := range listB {
		if c.ClientId == catA.ClientId {
			t.Fatal("tenant A's category leaked into tenant B's list")
		}
	}
}

func TestUnitListing_GroupedByBase(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	piece := mustUnit(t, ctx, svc, "Piece")
	twelve := decimal.NewFromInt(12)
	dozen, err := svc.units.Create(ctx, &models.NewUnit{
		Name:             "Dozen",
		BaseUnitId:       piece.ID,
		ConversionFactor: &twelve,
	})
	if err != nil {
		t.Fatalf("create dozen: %v", err)
	}

	groups, err := svc.units.FindMany(ctx, &models.UnitFilter{})
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].BaseUnitId != nil {
		t.Fatal("the no-base group must come first")
	}
	if groups[1].BaseUnitId == nil || *groups[1].BaseUnitId != piece.ID {
		t.Fatalf("expected second group keyed by piece, got %v", groups[1].BaseUnitId)
	}
	if len(groups[1].Units) != 1 || groups[1].Units[0].ID != dozen.ID {
		t.Fatal("dozen missing from its conversion family")
	}
}

func TestCategoryCreate_ConcurrentSameNameOneWins(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	// Two creates race past the uniqueness pre-check under READ COMMITTED;
	// the unique index on live rows must let exactly one through.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		code := fmt.Sprintf("DR%d", i+1)
		go func() {
			defer wg.Done()
			_, err := svc.categories.Create(ctx, &models.NewCategory{Name: "Drinks", CategoryCode: code})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, rejected int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case utils.ErrorCode(err) == utils.CodeDuplicateKey:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || rejected != 1 {
		t.Fatalf("expected 1 created / 1 rejected, got %d / %d", created, rejected)
	}

	db := config.GetDB()
	var live int64
	if err := db.Model(&models.Category{}).
		Where("name = ? AND deleted_at IS NULL", "Drinks").
		Count(&live).Error; err != nil {
		t.Fatalf("count live categories: %v", err)
	}
	if live != 1 {
		t.Fatalf("expected exactly 1 live row, got %d", live)
	}
}

func TestUnitUpdate_SelfBaseRejected(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	piece := mustUnit(t, ctx, svc, "Piece")

	_, err := svc.units.Update(ctx, piece.ID, &models.UnitPatch{BaseUnitId: &piece.ID})
	if err == nil {
		t.Fatal("expected self-base rejection")
	}
	if code := utils.ErrorCode(err); code != utils.CodeReferenceIntegrity {
		t.Fatalf("expected %s, got %s (%v)", utils.CodeReferenceIntegrity, code, err)
	}

	got, err := svc.units.FindById(ctx, piece.ID)
	if err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if !got.BaseUnit.IsZero() {
		t.Fatalf("base snapshot written despite rejection: %+v", got.BaseUnit)
	}
}

func TestProductCreate_SnapshotIgnoresStaleResolvedCategory(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")
	piece := mustUnit(t, ctx, svc, "Piece")

	// Resolve the references the way the service does, then let a rename
	// commit before the insert transaction opens. The repository's in-tx
	// re-read must win over the stale structs.
	staleCategory := *beverages
	staleUnit := *piece
	newName := "Drinks"
	if _, err := svc.categories.Update(ctx, beverages.ID, &models.CategoryPatch{Name: &newName}); err != nil {
		t.Fatalf("rename category: %v", err)
	}

	products := repository.NewProductRepo(config.GetDB())
	created, err := products.Create(ctx, nil, &staleCategory, &staleUnit, &models.NewProduct{
		Name:       "Cola",
		CategoryId: beverages.ID,
		UnitId:     piece.ID,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if created.Category.Name != "Drinks" {
		t.Fatalf("stale snapshot persisted: %q", created.Category.Name)
	}

	got, err := svc.products.FindById(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if got.Category.Name != "Drinks" {
		t.Fatalf("stored snapshot is stale: %q", got.Category.Name)
	}
}

func TestCategoryFindById_CacheInvalidatedByWrites(t *testing.T) {
	svc := setupCatalog(t)
	ctx := tenantContext(uuid.NewString())

	beverages := mustCategory(t, ctx, svc, "Beverages", "BEV")

	// Prime the cache.
	if _, err := svc.categories.FindById(ctx, beverages.ID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	newName := "Drinks"
	if _, err := svc.categories.Update(ctx, beverages.ID, &models.CategoryPatch{Name: &newName}); err != nil {
		t.Fatalf("rename category: %v", err)
	}
	got, err := svc.categories.FindById(ctx, beverages.ID)
	if err != nil {
		t.Fatalf("reload category: %v", err)
	}
	if got.Name != "Drinks" {
		t.Fatalf("cache served stale name %q after rename", got.Name)
	}

	if _, err := svc.categories.Delete(ctx, beverages.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	got, err = svc.categories.FindById(ctx, beverages.ID)
	if err != nil {
		t.Fatalf("lookup after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("cache served deleted category: %+v", got)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("catalog-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=catalog_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("catalog-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		out, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil && strings.Contains(out, "PONG") {
			return name, port
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
