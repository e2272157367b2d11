package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sweeper принудительный проход по сделкам с истёкшим депозитом.
type Sweeper interface {
	SweepOnce(ctx context.Context) int
}

// OutboxProcessor принудительная доставка просроченных событий outbox.
type OutboxProcessor interface {
	ProcessOnce(ctx context.Context) (int, error)
}

type MaintenanceResponse struct {
	Expired   int `json:"expired"`
	Delivered int `json:"delivered"`
}

// RunMaintenance godoc
// @Summary      Внеплановый проход фоновых задач
// @Description  Закрывает сделки с истёкшим окном депозита и доставляет накопившиеся события outbox
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} MaintenanceResponse
// @Failure      403 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /admin/maintenance [post]
func RunMaintenance(sw Sweeper, ob OutboxProcessor, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var resp MaintenanceResponse
		if sw != nil {
			resp.Expired = sw.SweepOnce(c.Request.Context())
		}
		if ob != nil {
			n, err := ob.ProcessOnce(c.Request.Context())
			if err != nil {
				log.Error("manual outbox pass failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "outbox error"})
				return
			}
			resp.Delivered = n
		}
		userID, _ := c.Get("client_id")
		log.Info("manual maintenance", zap.Any("admin_id", userID), zap.Int("expired", resp.Expired), zap.Int("delivered", resp.Delivered))
		c.JSON(http.StatusOK, resp)
	}
}
