package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/middlewares"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/repository"
	"bitbucket.org/mmdatafocus/catalog_backend/service"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// catalogGateway holds the service layer behind the JSON routes. It is
// built after the database connection is up; until then the readiness
// middleware keeps requests out.
type catalogGateway struct {
	logger     *logrus.Logger
	categories *service.CategoryService
	units      *service.UnitService
	products   *service.ProductService
}

var gateway *catalogGateway

func newCatalogGateway(db *gorm.DB, logger *logrus.Logger) *catalogGateway {
	categoryRepo := repository.NewCategoryRepo(db)
	unitRepo := repository.NewUnitRepo(db)
	productRepo := repository.NewProductRepo(db)
	return &catalogGateway{
		logger:     logger,
		categories: service.NewCategoryService(db, categoryRepo, productRepo),
		units:      service.NewUnitService(db, unitRepo, productRepo),
		products:   service.NewProductService(db, productRepo, categoryRepo, unitRepo),
	}
}

func registerCatalogRoutes(r *gin.Engine) {
	catalog := r.Group("/catalog", requireGateway(), middlewares.RequireClient())

	catalog.POST("/categories", createCategoryHandler)
	catalog.GET("/categories", listCategoriesHandler)
	catalog.GET("/categories/:id", getCategoryHandler)
	catalog.PATCH("/categories/:id", updateCategoryHandler)
	catalog.DELETE("/categories/:id", deleteCategoryHandler)
	catalog.GET("/categories/:id/product-count", categoryProductCountHandler)

	catalog.POST("/units", createUnitHandler)
	catalog.GET("/units", listUnitsHandler)
	catalog.GET("/units/:id", getUnitHandler)
	catalog.PATCH("/units/:id", updateUnitHandler)
	catalog.DELETE("/units/:id", deleteUnitHandler)
	catalog.GET("/units/:id/product-count", unitProductCountHandler)

	catalog.POST("/products", createProductHandler)
	catalog.GET("/products", listProductsHandler)
	catalog.GET("/products/export", exportProductsHandler)
	catalog.GET("/products/:id", getProductHandler)
	catalog.PATCH("/products/:id", updateProductHandler)
	catalog.DELETE("/products/:id", deleteProductHandler)
}

// requireGateway closes the window between the port opening and the
// gateway being wired to a live database handle.
func requireGateway() gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateway == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": utils.ProcessValidationErrors(validationErrs),
			})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func statusForErrorCode(code string) int {
	switch code {
	case utils.CodeNotFound:
		return http.StatusNotFound
	case utils.CodeDuplicateKey:
		return http.StatusConflict
	case utils.CodeImmutableField, utils.CodeReferenceIntegrity:
		return http.StatusUnprocessableEntity
	case utils.CodeNoOp:
		return http.StatusBadRequest
	case utils.CodeTransactionAborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(c *gin.Context, fn string, err error) {
	code := utils.ErrorCode(err)
	status := statusForErrorCode(code)
	if status == http.StatusInternalServerError {
		if gateway != nil {
			gateway.logger.WithFields(logrus.Fields{
				"field": "gateway",
				"func":  fn,
				"path":  c.FullPath(),
			}).Error(err.Error())
		}
		c.JSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func createCategoryHandler(c *gin.Context) {
	var input models.NewCategory
	if !bindJSON(c, &input) {
		return
	}
	category, err := gateway.categories.Create(c.Request.Context(), &input)
	if err != nil {
		respondServiceError(c, "createCategory", err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func listCategoriesHandler(c *gin.Context) {
	var filter models.CategoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	categories, err := gateway.categories.FindMany(c.Request.Context(), &filter)
	if err != nil {
		respondServiceError(c, "listCategories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func getCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	category, err := gateway.categories.FindById(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "getCategory", err)
		return
	}
	if category == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found", "code": utils.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, category)
}

func updateCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var patch models.CategoryPatch
	if !bindJSON(c, &patch) {
		return
	}
	category, err := gateway.categories.Update(c.Request.Context(), id, &patch)
	if err != nil {
		respondServiceError(c, "updateCategory", err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func deleteCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	category, err := gateway.categories.Delete(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "deleteCategory", err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func categoryProductCountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	count, err := gateway.products.CountByCategory(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "categoryProductCount", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categoryId": id, "productCount": count})
}

func createUnitHandler(c *gin.Context) {
	var input models.NewUnit
	if !bindJSON(c, &input) {
		return
	}
	unit, err := gateway.units.Create(c.Request.Context(), &input)
	if err != nil {
		respondServiceError(c, "createUnit", err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

func listUnitsHandler(c *gin.Context) {
	var filter models.UnitFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	groups, err := gateway.units.FindMany(c.Request.Context(), &filter)
	if err != nil {
		respondServiceError(c, "listUnits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unitGroups": groups})
}

func getUnitHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	unit, err := gateway.units.FindById(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "getUnit", err)
		return
	}
	if unit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not found", "code": utils.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, unit)
}

func updateUnitHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var patch models.UnitPatch
	if !bindJSON(c, &patch) {
		return
	}
	unit, err := gateway.units.Update(c.Request.Context(), id, &patch)
	if err != nil {
		respondServiceError(c, "updateUnit", err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func deleteUnitHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	unit, err := gateway.units.Delete(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "deleteUnit", err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func unitProductCountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	count, err := gateway.products.CountByUnit(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "unitProductCount", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unitId": id, "productCount": count})
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if !bindJSON(c, &input) {
		return
	}
	product, err := gateway.products.Create(c.Request.Context(), &input)
	if err != nil {
		respondServiceError(c, "createProduct", err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func listProductsHandler(c *gin.Context) {
	var filter models.ProductFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	products, err := gateway.products.FindMany(c.Request.Context(), &filter)
	if err != nil {
		respondServiceError(c, "listProducts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func getProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := gateway.products.FindById(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "getProduct", err)
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found", "code": utils.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, product)
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var patch models.ProductPatch
	if !bindJSON(c, &patch) {
		return
	}
	product, err := gateway.products.Update(c.Request.Context(), id, &patch)
	if err != nil {
		respondServiceError(c, "updateProduct", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func deleteProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := gateway.products.Delete(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "deleteProduct", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func exportProductsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	clientId, ok := utils.GetClientIdFromContext(ctx)
	if !ok || clientId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "client id is required"})
		return
	}
	f, err := models.ExportProductsToXlsx(ctx, clientId)
	if err != nil {
		respondServiceError(c, "exportProducts", err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("products-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}
