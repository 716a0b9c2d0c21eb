package handler

import (
	"cryptopayx/internal/handler/request"
	"cryptopayx/internal/handler/response"
	"cryptopayx/internal/middleware"
	"cryptopayx/internal/service"
	"cryptopayx/internal/store"
	"cryptopayx/pkg/errno"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth      *service.AuthService
	userStore store.UserStore
}

func NewAuthHandler(auth *service.AuthService, userStore store.UserStore) *AuthHandler {
	return &AuthHandler{auth: auth, userStore: userStore}
}

// Register 注册
// @Summary 用户注册
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body request.RegisterRequest true "Register"
// @Success 201 {object} response.Response
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req request.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:         req.Email,
		Password:      req.Password,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	token, err := h.auth.GenerateToken(user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"user": user, "token": token})
}

// Login 登录
// @Summary 用户登录
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body request.LoginRequest true "Login"
// @Success 200 {object} response.Response
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req request.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"user": user, "token": token})
}

// Me 当前用户信息
// @Summary 当前用户
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.userStore.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, errno.ErrUserNotFound)
		return
	}
	response.Success(c, user)
}
