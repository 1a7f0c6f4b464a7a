package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"statuslicense/pkg/errutil"
)

var statusCodes = map[errutil.CoreStatus]int{
	errutil.StatusBadRequest:        http.StatusBadRequest,
	errutil.StatusUnauthorized:      http.StatusUnauthorized,
	errutil.StatusForbidden:         http.StatusForbidden,
	errutil.StatusNotFound:          http.StatusNotFound,
	errutil.StatusConflict:          http.StatusConflict,
	errutil.StatusValidationFailed:  http.StatusUnprocessableEntity,
	errutil.StatusTimeout:           http.StatusGatewayTimeout,
	errutil.StatusVendorUnreachable: http.StatusBadGateway,
}

func abortError(c *gin.Context, err error) {
	var base errutil.BaseError
	if errors.As(err, &base) {
		code, ok := statusCodes[base.Status()]
		if !ok {
			code = http.StatusInternalServerError
		}
		c.AbortWithStatusJSON(code, base.JSON())
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    errutil.StatusInternal,
			"message": "internal error",
		},
	})
}
