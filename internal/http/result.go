package httpapi

import (
	"errors"
	"net/http"

	"investorkonnect-signing/internal/service"

	"go.uber.org/zap"
)

// ErrorBody 错误响应：{"error": "..."}
type ErrorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorBody{Error: msg})
}

// writeServiceError 将 service 层错误映射为 HTTP 状态码
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		badReq   *service.BadRequestError
		notFound *service.NotFoundError
		cfgErr   *service.ConfigError
	)
	switch {
	case errors.As(err, &badReq):
		writeError(w, http.StatusBadRequest, badReq.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &cfgErr):
		logger.Error("Configuration error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, cfgErr.Error())
	default:
		logger.Error("Unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
