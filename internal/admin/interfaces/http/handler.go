package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentprocessor/internal/admin/application"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
)

// AdminHandler HTTP 处理器
// 负责处理管理面的查询与出款创建请求
type AdminHandler struct {
	queryService *application.QueryService
}

// NewAdminHandler 创建 HTTP 处理器实例
func NewAdminHandler(queryService *application.QueryService) *AdminHandler {
	return &AdminHandler{queryService: queryService}
}

// RegisterRoutes 注册路由
func (h *AdminHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/events", h.ListEvents)
		api.GET("/payout/status/:txn_id", h.GetPayoutStatus)
		api.POST("/payout", h.CreatePayout)
		api.GET("/clearing", h.ListClearingEntries)
		api.GET("/settlement/batches", h.ListBatches)
	}
}

// Health 健康检查
func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListEvents 查询审计事件
func (h *AdminHandler) ListEvents(c *gin.Context) {
	topic := c.Query("topic")
	limit := parseLimit(c.Query("limit"), 100)

	events, err := h.queryService.ListEvents(c.Request.Context(), topic, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list events", "topic", topic, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GetPayoutStatus 按账务交易ID查询出款状态
func (h *AdminHandler) GetPayoutStatus(c *gin.Context) {
	txnID := c.Param("txn_id")
	if txnID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "txn_id is required"})
		return
	}

	payout, err := h.queryService.GetPayoutByTransactionID(c.Request.Context(), txnID)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get payout status", "txn_id", txnID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if payout == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payout not found"})
		return
	}

	c.JSON(http.StatusOK, payout)
}

// CreatePayoutRequest 创建出款请求
type CreatePayoutRequest struct {
	MerchantID string         `json:"merchant_id" binding:"required"`
	Method     string         `json:"method"`
	Amount     string         `json:"amount" binding:"required"`
	Currency   string         `json:"currency" binding:"required"`
	Protocol   string         `json:"protocol"`
	AuthCode   string         `json:"auth_code"`
	Payload    map[string]any `json:"payload"`
	Reference  string         `json:"reference"`
}

// CreatePayout 幂等地创建出款记录
func (h *AdminHandler) CreatePayout(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + req.Amount})
		return
	}

	payout, created, err := h.queryService.CreatePayout(c.Request.Context(), payoutapp.CreateRequest{
		MerchantID: req.MerchantID,
		Method:     req.Method,
		Amount:     amount,
		Currency:   req.Currency,
		Protocol:   req.Protocol,
		AuthCode:   req.AuthCode,
		Payload:    req.Payload,
		Reference:  req.Reference,
	})
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to create payout", "reference", req.Reference, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"payout": payout, "created": created})
}

// ListClearingEntries 查询清分条目
func (h *AdminHandler) ListClearingEntries(c *gin.Context) {
	status := c.Query("status")
	limit := parseLimit(c.Query("limit"), 100)

	entries, err := h.queryService.ListClearingEntries(c.Request.Context(), status, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list clearing entries", "status", status, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ListBatches 查询结算批次
func (h *AdminHandler) ListBatches(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)

	batches, err := h.queryService.ListBatches(c.Request.Context(), limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list settlement batches", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
