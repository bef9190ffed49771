package portal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/bankportal/internal/customers"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidPayload     = "invalid_payload"
	codeInvalidRequest     = "invalid_request"
	codeNotAuthenticated   = "not_authenticated"
	codeAuthInProgress     = "auth_in_progress"
	codeNotFound           = "not_found"
	codeAPIError           = "api_error"
	codeUpstream           = "upstream_unavailable"
	codeSessionUnavailable = "session_unavailable"
	codeInternal           = "internal_error"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError maps domain errors onto HTTP statuses. Remote API failures keep
// the remote status and message.
func (server *Server) respondError(ctx *gin.Context, err error) {
	var apiError *bankapi.APIError
	switch {
	case errors.Is(err, bankapi.ErrInvalidRequest), errors.Is(err, customers.ErrInvalidCustomer):
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, err.Error()))
	case errors.Is(err, session.ErrNotAuthenticated):
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeNotAuthenticated, err.Error()))
	case session.IsAuthInProgress(err):
		ctx.JSON(http.StatusConflict, errorResponse(codeAuthInProgress, err.Error()))
	case errors.Is(err, customers.ErrNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, err.Error()))
	case errors.As(err, &apiError):
		code := apiError.Code
		if code == "" || strings.ContainsAny(code, " \t") {
			code = codeAPIError
		}
		body := errorResponse(code, apiError.Error())
		if apiError.Details != nil {
			body["error"].(gin.H)["details"] = apiError.Details
		}
		ctx.JSON(apiError.StatusCode, body)
	case errors.Is(err, bankapi.ErrNetwork), errors.Is(err, bankapi.ErrDecodeResponse), errors.Is(err, bankapi.ErrResponseTooLarge):
		server.logger.Warn("remote api unavailable", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(codeUpstream, "bank api unavailable"))
	default:
		server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(codeInternal, "internal error"))
	}
}
