package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
	"escrowdesk/internal/stats"
)

// UserStats godoc
// @Summary Торговая статистика пользователя
// @Description Для пользователя без сделок возвращаются значения по умолчанию (рейтинг 5.0)
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID пользователя"
// @Success 200 {object} models.UserTradingStats
// @Failure 404 {object} ErrorResponse
// @Router /users/{id}/stats [get]
func UserStats(db *gorm.DB, svc *stats.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var count int64
		if err := db.Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		if count == 0 {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
			return
		}
		st, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
