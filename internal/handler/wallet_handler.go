package handler

import (
	"cryptopayx/internal/handler/request"
	"cryptopayx/internal/handler/response"
	"cryptopayx/internal/middleware"
	"cryptopayx/internal/model"
	"cryptopayx/internal/service"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	settlement *service.SettlementService
	userStore  store.UserStore
}

func NewWalletHandler(settlement *service.SettlementService, userStore store.UserStore) *WalletHandler {
	return &WalletHandler{settlement: settlement, userStore: userStore}
}

// Balances 当前用户钱包的 ETH 与 CPX 余额
// @Summary 钱包余额
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/balances [get]
func (h *WalletHandler) Balances(c *gin.Context) {
	user, err := h.userStore.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, errno.ErrUserNotFound)
		return
	}

	eth, cpx, err := h.settlement.WalletBalances(c.Request.Context(), user.WalletAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"address": user.WalletAddress,
		"eth":     eth,
		"cpx":     cpx,
	})
}

// EstimateGas 广播前的转账费用预估
// @Summary 费用预估
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.EstimateGasRequest true "预估参数"
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/estimate-gas [post]
func (h *WalletHandler) EstimateGas(c *gin.Context) {
	var req request.EstimateGasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	quote, err := h.settlement.EstimateTransfer(c.Request.Context(), middleware.UserID(c),
		req.ToAddress, req.Amount, model.Currency(req.Currency))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, quote)
}
