package validator

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"cryptopayx/internal/model"
)

// Init 在 gin 的 binding 校验器上注册自定义规则
func Init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	// currency: 结算币种白名单
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return model.Currency(fl.Field().String()).Valid()
	})
}

// GetErrorMsg 把校验错误翻译成面向调用方的提示
func GetErrorMsg(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return "请求参数错误"
	}

	var msgs []string
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s 不能为空", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s 格式不正确", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s 长度至少为 %s", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s 长度不能超过 %s", field, e.Param()))
		case "currency":
			msgs = append(msgs, fmt.Sprintf("%s 必须是 ETH 或 CPX", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s 校验失败 (%s)", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
