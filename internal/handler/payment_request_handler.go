package handler

import (
	"strconv"
	"time"

	"cryptopayx/internal/handler/request"
	"cryptopayx/internal/handler/response"
	"cryptopayx/internal/middleware"
	"cryptopayx/internal/model"
	"cryptopayx/internal/service"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

type PaymentRequestHandler struct {
	settlement  *service.SettlementService
	frontendURL string
}

func NewPaymentRequestHandler(settlement *service.SettlementService, frontendURL string) *PaymentRequestHandler {
	return &PaymentRequestHandler{settlement: settlement, frontendURL: frontendURL}
}

// Create 创建收款请求
// @Summary 创建收款请求
// @Tags PaymentRequest
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.CreatePaymentRequestRequest true "Payment Request"
// @Success 201 {object} response.Response
// @Router /api/v1/payment-requests [post]
func (h *PaymentRequestHandler) Create(c *gin.Context) {
	var req request.CreatePaymentRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	pr, shareCode, err := h.settlement.CreatePaymentRequest(c.Request.Context(), middleware.UserID(c), service.CreatePaymentRequestInput{
		Amount:      req.Amount,
		Currency:    model.Currency(req.Currency),
		Description: req.Description,
		ExpiresIn:   time.Duration(req.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// 明文访问码只在创建响应里出现一次
	response.Created(c, gin.H{
		"payment_request": pr,
		"payment_url":     pr.PaymentURL(h.frontendURL) + "?code=" + shareCode,
	})
}

// Get 查看收款请求 (分享链接, 无需登录, 访问码校验)
// @Summary 查看收款请求
// @Tags PaymentRequest
// @Produce json
// @Param id path int true "Request ID"
// @Param code query string false "Access code"
// @Success 200 {object} response.Response
// @Router /api/v1/payment-requests/{id} [get]
func (h *PaymentRequestHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrRequestNotFound)
		return
	}

	pr, err := h.settlement.GetPaymentRequest(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	// requester 本人可直接看, 其他人必须出示访问码
	if middleware.UserID(c) != pr.RequesterID && !h.settlement.VerifyAccessCode(pr, c.Query("code")) {
		response.Error(c, errno.ErrRequestNotFound) // 不泄露存在性
		return
	}
	response.Success(c, pr)
}

// List 我发起的收款请求
// @Summary 收款请求列表
// @Tags PaymentRequest
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response
// @Router /api/v1/payment-requests [get]
func (h *PaymentRequestHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	prs, total, err := h.settlement.ListPaymentRequests(c.Request.Context(), middleware.UserID(c), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, prs, total, page, limit)
}

// Pay 支付收款请求
// @Summary 支付收款请求
// @Tags PaymentRequest
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body request.PayRequestRequest true "Signing material"
// @Success 200 {object} response.Response
// @Router /api/v1/payment-requests/{id}/pay [post]
func (h *PaymentRequestHandler) Pay(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrRequestNotFound)
		return
	}

	var req request.PayRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	tx, err := h.settlement.PayPaymentRequest(c.Request.Context(), middleware.UserID(c), id, req.PrivateKey, req.GasPrice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// Cancel 取消收款请求 (仅发起方, 仅 pending)
// @Summary 取消收款请求
// @Tags PaymentRequest
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} response.Response
// @Router /api/v1/payment-requests/{id} [delete]
func (h *PaymentRequestHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrRequestNotFound)
		return
	}
	if err := h.settlement.CancelPaymentRequest(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
