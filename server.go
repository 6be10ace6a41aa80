package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/middlewares"
	"github.com/facturasoft/factura_backend/models"
	"github.com/facturasoft/factura_backend/models/reports"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/facturasoft/factura_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// respondError maps the model error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	logger := config.GetLogger()

	var stockErr *utils.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductId,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorTransactionAborted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	default:
		correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(logger, "server", c.FullPath(), "Unhandled error", correlationId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

/* auth */

func signupHandler(c *gin.Context) {
	var input models.Signup
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	company, owner, err := models.RegisterCompany(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"company": company, "owner": owner})
}

func loginHandler(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := models.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		// uniform 401 so credentials can't be probed
		if errors.Is(err, utils.ErrorInvalidArgument) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func changePasswordHandler(c *gin.Context) {
	var input struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := models.ChangePassword(c.Request.Context(), input.OldPassword, input.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

/* company + subscription */

func getCompanyHandler(c *gin.Context) {
	company, err := models.GetCompany(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func updateCompanyHandler(c *gin.Context) {
	var input models.NewCompany
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	company, err := models.UpdateCompany(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func getSubscriptionHandler(c *gin.Context) {
	subscription, err := models.GetSubscription(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

/* users */

func createUserHandler(c *gin.Context) {
	var input models.NewUser
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func getUsersHandler(c *gin.Context) {
	users, err := models.GetUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func getUserHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	user, err := models.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func updateUserHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := models.UpdateUser(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func deleteUserHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	user, err := models.DeleteUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

/* customers */

func createCustomerHandler(c *gin.Context) {
	var input models.NewCustomer
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func getCustomersHandler(c *gin.Context) {
	var name *string
	if q := c.Query("name"); q != "" {
		name = &q
	}
	customers, err := models.GetCustomers(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func getCustomerHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	customer, err := models.GetCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func updateCustomerHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewCustomer
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customer, err := models.UpdateCustomer(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func deleteCustomerHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	customer, err := models.DeleteCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

/* products */

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func getProductsHandler(c *gin.Context) {
	var name *string
	if q := c.Query("name"); q != "" {
		name = &q
	}
	activeOnly := c.Query("active") == "true"
	products, err := models.GetProducts(c.Request.Context(), name, activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func getProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.UpdateProduct(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func deleteProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := models.DeleteProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func adjustProductStockHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input struct {
		Qty    decimal.Decimal `json:"qty" binding:"required"`
		Reason string          `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.AdjustProductStock(c.Request.Context(), id, input.Qty, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

/* invoices */

func createInvoiceHandler(c *gin.Context) {
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoice, err := models.CreateInvoice(c.Request.Context(), &input)
	middlewares.ObserveInvoiceMutation("create", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func getInvoicesHandler(c *gin.Context) {
	var customerId *int
	if q := c.Query("customer_id"); q != "" {
		id, err := strconv.Atoi(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer_id"})
			return
		}
		customerId = &id
	}
	var status *models.InvoiceStatus
	if q := c.Query("status"); q != "" {
		s := models.InvoiceStatus(q)
		status = &s
	}
	invoices, err := models.GetInvoices(c.Request.Context(), customerId, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func getInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	invoice, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func updateInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoice, err := models.UpdateInvoice(c.Request.Context(), id, &input)
	middlewares.ObserveInvoiceMutation("update", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func deleteInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	invoice, err := models.DeleteInvoice(c.Request.Context(), id)
	middlewares.ObserveInvoiceMutation("delete", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func updateInvoiceStatusHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input struct {
		Status models.InvoiceStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoice, err := models.UpdateInvoiceStatus(c.Request.Context(), id, input.Status)
	middlewares.ObserveInvoiceMutation("status", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func exportInvoicesHandler(c *gin.Context) {
	var status *models.InvoiceStatus
	if q := c.Query("status"); q != "" {
		s := models.InvoiceStatus(q)
		status = &s
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=invoices.xlsx")
	if err := reports.WriteInvoiceExport(c.Request.Context(), c.Writer, status); err != nil {
		respondError(c, err)
	}
}

/* quotes */

func createQuoteHandler(c *gin.Context) {
	var input models.NewQuote
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quote, err := models.CreateQuote(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quote)
}

func getQuotesHandler(c *gin.Context) {
	var customerId *int
	if q := c.Query("customer_id"); q != "" {
		id, err := strconv.Atoi(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer_id"})
			return
		}
		customerId = &id
	}
	var status *models.QuoteStatus
	if q := c.Query("status"); q != "" {
		s := models.QuoteStatus(q)
		status = &s
	}
	quotes, err := models.GetQuotes(c.Request.Context(), customerId, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotes)
}

func getQuoteHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	quote, err := models.GetQuote(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func updateQuoteHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewQuote
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quote, err := models.UpdateQuote(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func deleteQuoteHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	quote, err := models.DeleteQuote(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func updateQuoteStatusHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input struct {
		Status models.QuoteStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quote, err := models.UpdateQuoteStatus(c.Request.Context(), id, input.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func convertQuoteHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	invoice, err := models.ConvertQuoteToInvoice(c.Request.Context(), id)
	middlewares.ObserveInvoiceMutation("convert", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

/* sequences */

func parseDocumentType(c *gin.Context) (models.DocumentType, bool) {
	docType := models.DocumentType(c.Param("type"))
	switch docType {
	case models.DocumentTypeInvoice, models.DocumentTypeQuote, models.DocumentTypeCreditNote:
		return docType, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown document type %q", docType)})
	return "", false
}

func getSequencesHandler(c *gin.Context) {
	sequences, err := models.GetDocumentSequences(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sequences)
}

func previewSequenceHandler(c *gin.Context) {
	docType, ok := parseDocumentType(c)
	if !ok {
		return
	}
	number, err := models.PreviewNextDocumentNumber(c.Request.Context(), docType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_number": number})
}

func updateSequenceHandler(c *gin.Context) {
	docType, ok := parseDocumentType(c)
	if !ok {
		return
	}
	var input models.NewDocumentSequence
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sequence, err := models.UpdateDocumentSequence(c.Request.Context(), docType, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sequence)
}

/* reports */

func salesByCustomerHandler(c *gin.Context) {
	fromDate, err := time.Parse(time.DateOnly, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
		return
	}
	toDate, err := time.Parse(time.DateOnly, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
		return
	}

	if c.Query("format") == "xlsx" {
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=sales_by_customer.xlsx")
		if err := reports.WriteSalesByCustomerExport(c.Request.Context(), c.Writer, fromDate, toDate); err != nil {
			respondError(c, err)
		}
		return
	}

	records, err := reports.GetSalesByCustomerReport(c.Request.Context(), fromDate, toDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

/* admin */

func adminListCompaniesHandler(c *gin.Context) {
	var name *string
	if q := c.Query("name"); q != "" {
		name = &q
	}
	companies, err := models.GetCompanies(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, companies)
}

func adminToggleCompanyHandler(c *gin.Context) {
	var input struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	company, err := models.ToggleActiveCompany(c.Request.Context(), c.Param("id"), *input.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func adminUpdateSubscriptionHandler(c *gin.Context) {
	var input models.NewSubscription
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subscription, err := models.UpdateSubscription(c.Request.Context(), c.Param("id"), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

// requireAdmin gates platform endpoints to the seeded admin account, which
// carries the Admin role and no company binding.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.GetIsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

/* rate limiting */

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// fail open; rate limiting is best-effort
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("rate limit exceeded, try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func setupRouter(hub *workflow.NotificationHub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// correlation ids: generate once per request and attach to context
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})

	// gate app endpoints on dependency readiness
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	// production requires an explicit allowlist; elsewhere allow all
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(config.GetLogger()))
	r.Use(middlewares.MetricsMiddleware())
	r.Use(middlewares.AuthMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/auth")
	{
		if rdb := config.GetRedisDB(); rdb != nil {
			limiter := NewRateLimiter(rdb, 10, time.Minute)
			auth.Use(limiter.RateLimitMiddleware)
		}
		auth.POST("/signup", signupHandler)
		auth.POST("/login", loginHandler)
		auth.POST("/change-password", middlewares.RequireAuth(), changePasswordHandler)
	}

	api := r.Group("/api/v1", middlewares.RequireAuth())
	{
		api.GET("/company", getCompanyHandler)
		api.PUT("/company", middlewares.RequireRole(models.UserRoleOwner, models.UserRoleAdmin), updateCompanyHandler)
		api.GET("/subscription", getSubscriptionHandler)

		users := api.Group("/users", middlewares.RequireRole(models.UserRoleOwner, models.UserRoleAdmin))
		{
			users.POST("", createUserHandler)
			users.GET("", getUsersHandler)
			users.GET("/:id", getUserHandler)
			users.PUT("/:id", updateUserHandler)
			users.DELETE("/:id", deleteUserHandler)
		}

		writes := api.Group("", middlewares.RequireActiveSubscription())
		{
			customers := writes.Group("/customers")
			{
				customers.POST("", createCustomerHandler)
				customers.GET("", getCustomersHandler)
				customers.GET("/:id", getCustomerHandler)
				customers.PUT("/:id", updateCustomerHandler)
				customers.DELETE("/:id", deleteCustomerHandler)
			}

			products := writes.Group("/products")
			{
				products.POST("", createProductHandler)
				products.GET("", getProductsHandler)
				products.GET("/:id", getProductHandler)
				products.PUT("/:id", updateProductHandler)
				products.DELETE("/:id", deleteProductHandler)
				products.POST("/:id/adjust-stock", adjustProductStockHandler)
			}

			invoices := writes.Group("/invoices")
			{
				invoices.POST("", createInvoiceHandler)
				invoices.GET("", getInvoicesHandler)
				invoices.GET("/export", exportInvoicesHandler)
				invoices.GET("/:id", getInvoiceHandler)
				invoices.PUT("/:id", updateInvoiceHandler)
				invoices.DELETE("/:id", deleteInvoiceHandler)
				invoices.PUT("/:id/status", updateInvoiceStatusHandler)
			}

			quotes := writes.Group("/quotes")
			{
				quotes.POST("", createQuoteHandler)
				quotes.GET("", getQuotesHandler)
				quotes.GET("/:id", getQuoteHandler)
				quotes.PUT("/:id", updateQuoteHandler)
				quotes.DELETE("/:id", deleteQuoteHandler)
				quotes.PUT("/:id/status", updateQuoteStatusHandler)
				quotes.POST("/:id/convert", convertQuoteHandler)
			}

			sequences := writes.Group("/sequences")
			{
				sequences.GET("", getSequencesHandler)
				sequences.GET("/:type/preview", previewSequenceHandler)
				sequences.PUT("/:type", middlewares.RequireRole(models.UserRoleOwner, models.UserRoleAdmin), updateSequenceHandler)
			}
		}

		api.GET("/reports/sales-by-customer", salesByCustomerHandler)
	}

	r.GET("/ws", middlewares.RequireAuth(), hub.ServeWs)

	admin := r.Group("/admin", requireAdmin())
	{
		admin.GET("/companies", adminListCompaniesHandler)
		admin.PUT("/companies/:id/active", adminToggleCompanyHandler)
		admin.PUT("/companies/:id/subscription", adminUpdateSubscriptionHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	hub := workflow.NewNotificationHub()
	r := setupRouter(hub)

	// start listening immediately; the readiness gate returns 503 until the
	// dependencies below are connected
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// line-item reconciliation relies on READ COMMITTED row locking
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go hub.Run(workerCtx)
	go workflow.NewLowStockSweep(db, logger).Run(workerCtx)

	logger.WithFields(logrus.Fields{"port": port}).Info("server started")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// stop background workers before draining so they don't start new work
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that collected gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
