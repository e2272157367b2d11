package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"escrowdesk/internal/models"
	"escrowdesk/internal/storage"
	"escrowdesk/internal/tradechat"
	"escrowdesk/internal/trades"
)

const maxUploadSize = 10 << 20

type MessageRequest struct {
	Content string `json:"content"`
}

type AttachmentResponse struct {
	Object string `json:"object"`
	URL    string `json:"url"`
}

// ListMessages godoc
// @Summary История чата сделки
// @Tags chat
// @Security BearerAuth
// @Produce json
// @Param id path int true "ID сделки"
// @Success 200 {array} models.TradeMessage
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trades/{id}/messages [get]
func ListMessages(svc *trades.Service, chat *tradechat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		if _, err := svc.Get(c.Request.Context(), id, actor); err != nil {
			respondError(c, err)
			return
		}
		msgs, err := chat.History(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		if msgs == nil {
			msgs = []models.TradeMessage{}
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// PostMessage godoc
// @Summary Сообщение в чат сделки
// @Description Принимает JSON с текстом либо multipart с полем file
// @Tags chat
// @Security BearerAuth
// @Accept json
// @Accept mpfd
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body MessageRequest false "текст"
// @Param file formData file false "файл"
// @Success 200 {object} models.TradeMessage
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /trades/{id}/messages [post]
func PostMessage(svc *trades.Service, chat *tradechat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		t, err := svc.Get(c.Request.Context(), id, actor)
		if err != nil {
			respondError(c, err)
			return
		}
		if !t.IsParty(actor.UserID) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a trade party", Code: string(trades.CodeForbidden)})
			return
		}

		var msg *models.TradeMessage
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			fh, err := c.FormFile("file")
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file required"})
				return
			}
			if fh.Size > maxUploadSize {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file too large"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid file"})
				return
			}
			defer f.Close()
			msg, err = chat.PostFile(c.Request.Context(), id, actor.UserID, fh.Filename, f, fh.Size, fh.Header.Get("Content-Type"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload error"})
				return
			}
		} else {
			var r MessageRequest
			if err := c.BindJSON(&r); err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
				return
			}
			msg, err = chat.PostMessage(c.Request.Context(), id, actor.UserID, r.Content)
			if errors.Is(err, tradechat.ErrEmptyMessage) || errors.Is(err, tradechat.ErrTooLong) {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(trades.CodeValidation)})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
				return
			}
		}
		c.JSON(http.StatusOK, msg)
	}
}

// UploadAttachment godoc
// @Summary Загрузка подтверждения оплаты или доказательства по спору
// @Description Возвращает имя объекта для payment_proof_images / evidence_images
// @Tags trades
// @Security BearerAuth
// @Accept mpfd
// @Produce json
// @Param id path int true "ID сделки"
// @Param kind query string false "proof или evidence"
// @Param file formData file true "файл"
// @Success 200 {object} AttachmentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /trades/{id}/attachments [post]
func UploadAttachment(svc *trades.Service, store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		if _, err := svc.Get(c.Request.Context(), id, actor); err != nil {
			respondError(c, err)
			return
		}
		kind := c.DefaultQuery("kind", "proof")
		if kind != "proof" && kind != "evidence" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid kind"})
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file required"})
			return
		}
		if fh.Size > maxUploadSize {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid file"})
			return
		}
		defer f.Close()
		name, err := storage.ObjectName(id, kind, fh.Filename)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload error"})
			return
		}
		obj, err := store.Upload(c.Request.Context(), name, f, fh.Size, fh.Header.Get("Content-Type"))
		if err != nil {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upload error", Code: string(trades.CodeUpstream)})
			return
		}
		url, err := store.GetURL(c.Request.Context(), obj, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upload error", Code: string(trades.CodeUpstream)})
			return
		}
		c.JSON(http.StatusOK, AttachmentResponse{Object: obj, URL: url})
	}
}
