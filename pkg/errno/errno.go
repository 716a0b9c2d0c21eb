package errno

import "net/http"

// Errno defines the error code logic
type Errno struct {
	Code    int
	HTTP    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy of the Errno with a more specific message,
// keeping the code and HTTP status.
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, int, string) {
	if err == nil {
		return OK.Code, OK.HTTP, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.HTTP, typed.Message
	case Errno:
		return typed.Code, typed.HTTP, typed.Message
	default:
		return InternalServerError.Code, InternalServerError.HTTP, err.Error()
	}
}

// Is reports whether err carries the same business code as target.
func Is(err error, target Errno) bool {
	code, _, _ := Decode(err)
	return code == target.Code
}

// Common Errors
var (
	OK                  = Errno{Code: 0, HTTP: http.StatusOK, Message: "Success"}
	InternalServerError = Errno{Code: 10001, HTTP: http.StatusInternalServerError, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, HTTP: http.StatusBadRequest, Message: "Error occurred while binding the request body to the struct"}
	ErrTokenInvalid     = Errno{Code: 10003, HTTP: http.StatusUnauthorized, Message: "Token invalid"}
	ErrDatabase         = Errno{Code: 10004, HTTP: http.StatusInternalServerError, Message: "Database error"}
	ErrValidation       = Errno{Code: 10005, HTTP: http.StatusBadRequest, Message: "Validation failed"}
	ErrForbidden        = Errno{Code: 10006, HTTP: http.StatusForbidden, Message: "Access denied"}
)

// Business Errors (20000+)
var (
	ErrUserNotFound      = Errno{Code: 20101, HTTP: http.StatusNotFound, Message: "User not found"}
	ErrPasswordIncorrect = Errno{Code: 20102, HTTP: http.StatusUnauthorized, Message: "Password incorrect"}
	ErrUserAlreadyExist  = Errno{Code: 20103, HTTP: http.StatusBadRequest, Message: "User already exists"}

	ErrInvalidAddress      = Errno{Code: 20201, HTTP: http.StatusBadRequest, Message: "Invalid wallet address"}
	ErrInvalidAmount       = Errno{Code: 20202, HTTP: http.StatusBadRequest, Message: "Amount must be a positive number"}
	ErrUnsupportedCurrency = Errno{Code: 20203, HTTP: http.StatusBadRequest, Message: "Unsupported currency"}
	ErrInsufficientBalance = Errno{Code: 20204, HTTP: http.StatusBadRequest, Message: "Insufficient balance"}
	ErrInvalidPrivateKey   = Errno{Code: 20205, HTTP: http.StatusBadRequest, Message: "Invalid private key format"}

	ErrTxNotFound     = Errno{Code: 20301, HTTP: http.StatusNotFound, Message: "Transaction not found"}
	ErrTxInvalidState = Errno{Code: 20302, HTTP: http.StatusBadRequest, Message: "Transaction already processed"}
	ErrTxNotOwned     = Errno{Code: 20303, HTTP: http.StatusForbidden, Message: "Unauthorized transaction"}

	ErrRequestNotFound     = Errno{Code: 20401, HTTP: http.StatusNotFound, Message: "Payment request not found"}
	ErrRequestInvalidState = Errno{Code: 20402, HTTP: http.StatusBadRequest, Message: "Payment request is not available for payment"}
	ErrRequestExpired      = Errno{Code: 20403, HTTP: http.StatusBadRequest, Message: "Payment request has expired"}
	ErrRequestNotOwned     = Errno{Code: 20404, HTTP: http.StatusForbidden, Message: "Payment request belongs to another user"}
)

// Ledger Errors (20500+)
// 超时与失败语义不同: 超时代表 "结果未知, 稍后再查", 链上交易之后仍可能成功.
var (
	ErrLedger              = Errno{Code: 20501, HTTP: http.StatusInternalServerError, Message: "Blockchain operation failed"}
	ErrConfirmationTimeout = Errno{Code: 20502, HTTP: http.StatusServiceUnavailable, Message: "Confirmation wait timed out, check transaction status later"}
	ErrContractNotReady    = Errno{Code: 20503, HTTP: http.StatusServiceUnavailable, Message: "Contract not initialized"}
)
