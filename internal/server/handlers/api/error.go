package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

type ShelfAPIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *ShelfAPIError) Error() string {
	return fmt.Sprintf("shelf api error: code=%s, message=%s", e.Code, e.Message)
}

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, ShelfAPIError{
		Code:    code,
		Message: err.Error(),
	})
}
