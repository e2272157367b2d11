package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"escrowdesk/internal/trades"
)

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var statusByCode = map[trades.Code]int{
	trades.CodeNotFound:          http.StatusNotFound,
	trades.CodeForbidden:         http.StatusForbidden,
	trades.CodeInvalidTransition: http.StatusConflict,
	trades.CodeDeadlineExceeded:  http.StatusGone,
	trades.CodeValidation:        http.StatusBadRequest,
	trades.CodeUpstream:          http.StatusBadGateway,
}

// respondError переводит ошибку сервиса сделок в HTTP-ответ. Нетипизированные
// ошибки считаются сбоем хранилища и наружу не раскрываются.
func respondError(c *gin.Context, err error) {
	code := trades.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
		return
	}
	msg := string(code)
	var te *trades.Error
	if errors.As(err, &te) && te.Message != "" {
		msg = te.Message
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: string(code)})
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return uint(id), true
}
