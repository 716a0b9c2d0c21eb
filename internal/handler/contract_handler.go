package handler

import (
	"cryptopayx/internal/handler/response"
	"cryptopayx/internal/service"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

type ContractHandler struct {
	settlement *service.SettlementService
}

func NewContractHandler(settlement *service.SettlementService) *ContractHandler {
	return &ContractHandler{settlement: settlement}
}

// TokenInfo CPX 代币元数据
// @Summary 代币信息
// @Tags Contract
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/contract/token [get]
func (h *ContractHandler) TokenInfo(c *gin.Context) {
	info, err := h.settlement.TokenInfo(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// GasPrice 当前建议 gas 价格 (gwei)
// @Summary Gas 价格
// @Tags Contract
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/contract/gas-price [get]
func (h *ContractHandler) GasPrice(c *gin.Context) {
	response.Success(c, gin.H{
		"gas_price_gwei": h.settlement.GasPrice(c.Request.Context()),
	})
}

// GatewayPayment 网关合约上的链上支付单
// @Summary 链上支付单
// @Tags Contract
// @Produce json
// @Param id path string true "Payment ID (bytes32 hex)"
// @Success 200 {object} response.Response
// @Router /api/v1/contract/payments/{id} [get]
func (h *ContractHandler) GatewayPayment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, errno.ErrValidation)
		return
	}
	details, err := h.settlement.GatewayPaymentDetails(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, details)
}
