package handler

import (
	"cryptopayx/internal/handler/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck 存活探针
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
