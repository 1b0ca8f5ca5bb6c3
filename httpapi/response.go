package httpapi

import (
	"net/http"

	"github.com/fixkme/plua/errs"
	"github.com/gin-gonic/gin"
)

// 返回格式
type ResponseResult struct {
	Ecode int    `json:"ecode"` // 业务状态码，0为成功，其他表示失败
	Error string `json:"error"` // 业务消息提示，不参与逻辑，仅用于ui展示，默认为空字符串
	Data  any    `json:"data"`  // 业务数据，如果不设置时默认为json空对象{}
}

func envelope(c *gin.Context, httpStatus int, ecode int, desc string, data any) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(httpStatus, gin.H{
		"status": ecode,
		"error":  desc,
		"data":   data,
		"_links": gin.H{
			"self": gin.H{"href": c.Request.RequestURI},
		},
	})
}

func Response(c *gin.Context, httpStatus int, response *ResponseResult) {
	envelope(c, httpStatus, response.Ecode, response.Error, response.Data)
}

// ResponseError 错误码取自 errs.CodeError，其他错误按 Unknown 处理
func ResponseError(c *gin.Context, httpStatus int, err error) {
	envelope(c, httpStatus, int(errs.CodeOf(err)), err.Error(), nil)
}

func ResponseSuccess(c *gin.Context, data any) {
	envelope(c, http.StatusOK, errs.ErrCode_OK, "", data)
}
