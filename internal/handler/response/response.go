package response

import (
	"net/http"

	"cryptopayx/pkg/errno"
	"cryptopayx/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Response defines the standard JSON structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Created returns a 201 response with data
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error returns an error response, HTTP status derived from the errno
func Error(c *gin.Context, err error) {
	code, status, msg := errno.Decode(err)
	c.JSON(status, Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}

// BindError returns a bind failure with field-level validation messages
func BindError(c *gin.Context, err error) {
	Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
}

// Paginated wraps list data with pagination metadata
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	Success(c, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
