package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

// MustParseInt64Param 解析路径参数中的 QQ 号/群号；失败时写入 400
// 调用方应在 ok=false 时直接 return。
func MustParseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		response.BadRequest(c, response.CodeBadParam, name+" 必须是正整数")
		return 0, false
	}
	return v, true
}

// MustGetTaskID 路径参数中的任务 ID
func MustGetTaskID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, response.CodeBadParam, "任务 ID 不能为空")
		return "", false
	}
	return id, true
}
