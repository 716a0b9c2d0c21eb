package handler

import (
	"strconv"

	"cryptopayx/internal/handler/request"
	"cryptopayx/internal/handler/response"
	"cryptopayx/internal/middleware"
	"cryptopayx/internal/model"
	"cryptopayx/internal/service"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	settlement *service.SettlementService
}

func NewTransactionHandler(settlement *service.SettlementService) *TransactionHandler {
	return &TransactionHandler{settlement: settlement}
}

// Create 登记转账 (第一阶段, 不触链)
// @Summary 创建转账
// @Tags Transaction
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.CreateTransactionRequest true "Transaction"
// @Success 201 {object} response.Response
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) Create(c *gin.Context) {
	var req request.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	tx, err := h.settlement.CreateTransaction(c.Request.Context(), middleware.UserID(c), service.CreateTransactionInput{
		ToAddress:    req.ToAddress,
		Amount:       req.Amount,
		Currency:     model.Currency(req.Currency),
		Type:         model.TxType(req.Type),
		Description:  req.Description,
		GasPriceGwei: req.GasPrice,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tx)
}

// Execute 执行转账 (第二阶段, 携带签名材料广播)
// @Summary 执行转账
// @Tags Transaction
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Param request body request.ExecuteTransactionRequest true "Signing material"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/{id}/execute [post]
func (h *TransactionHandler) Execute(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrTxNotFound)
		return
	}

	var req request.ExecuteTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	tx, err := h.settlement.ExecuteTransaction(c.Request.Context(), middleware.UserID(c), id, req.PrivateKey, req.GasPrice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// Cancel 撤回还没执行的转账登记
// @Summary 取消转账
// @Tags Transaction
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/{id} [delete]
func (h *TransactionHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrTxNotFound)
		return
	}
	if err := h.settlement.CancelTransaction(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Get 查看交易 (发送方或接收方)
// @Summary 查看交易
// @Tags Transaction
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrTxNotFound)
		return
	}
	tx, err := h.settlement.GetTransaction(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// List 我的交易流水 (双向)
// @Summary 交易列表
// @Tags Transaction
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions [get]
func (h *TransactionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	txs, total, err := h.settlement.ListTransactions(c.Request.Context(), middleware.UserID(c), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, txs, total, page, limit)
}
