package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

// 通用错误码
const (
	CodeBadParam      = 10001
	CodeUnauthorized  = 10002
	CodeTooFrequent   = 10004
	CodeBodyTooLarge  = 10005
	CodeUnavailable   = 10006
	CodeNotFound      = 10404
	CodeConflict      = 10409
	CodeInternalError = 50000
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Details string      `json:"details,omitempty"`
}

// ListData 列表响应数据
type ListData struct {
	List  interface{} `json:"list"`
	Total int         `json:"total"`
}

// ── 成功响应 ──

// OK 200 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// OKList 200 列表响应
func OKList(c *gin.Context, list interface{}, total int) {
	OK(c, ListData{List: list, Total: total})
}

// ── 错误响应 ──

// Error 通用错误响应
func Error(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithDetails 带详情的错误响应
func ErrorWithDetails(c *gin.Context, httpStatus int, code int, message, details string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// FromError 按错误分类映射 HTTP 状态；未分类错误一律 500 且不回显内部信息
func FromError(c *gin.Context, err error) {
	msg := err.Error()
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		BadRequest(c, CodeBadParam, msg)
	case apperrors.KindNotFound:
		NotFound(c, CodeNotFound, msg)
	case apperrors.KindConflict:
		Error(c, http.StatusConflict, CodeConflict, msg)
	case apperrors.KindForbidden:
		Error(c, http.StatusForbidden, CodeUnauthorized, msg)
	case apperrors.KindPersistence, apperrors.KindIO:
		ErrorWithDetails(c, http.StatusInternalServerError, CodeInternalError, "服务器内部错误", apperrors.KindOf(err).String())
	default:
		InternalError(c)
	}
}

// ── 常见快捷方式 ──

// BadRequest 400
func BadRequest(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401
func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

// NotFound 404
func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

// ServiceUnavailable 503
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, CodeUnavailable, message)
}

// InternalError 500
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeInternalError, "服务器内部错误")
}
