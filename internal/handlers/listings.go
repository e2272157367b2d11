package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
)

type ListingRequest struct {
	ListingType          models.ListingType     `json:"listing_type"`
	Category             models.ListingCategory `json:"category"`
	TokenOffered         string                 `json:"token_offered"`
	Currency             string                 `json:"currency"`
	ChainID              int64                  `json:"chain_id"`
	Amount               string                 `json:"amount"`
	MinAmount            string                 `json:"min_amount"`
	MaxAmount            string                 `json:"max_amount"`
	PaymentMethod        string                 `json:"payment_method"`
	PaymentWindowMinutes int                    `json:"payment_window_minutes"`
	DomainName           string                 `json:"domain_name"`
	Conditions           string                 `json:"conditions"`
}

type ListingsResponse struct {
	Items []models.Listing `json:"items"`
	Total int64            `json:"total"`
}

// CreateListing godoc
// @Summary Создать объявление
// @Description Для доменного объявления amount это цена в USD, а domain_name обязателен
// @Tags listings
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body ListingRequest true "данные"
// @Success 200 {object} models.Listing
// @Failure 400 {object} ErrorResponse
// @Router /listings [post]
// defaultWindow окно депозита для объявлений без payment_window_minutes.
func CreateListing(db *gorm.DB, defaultChainID int64, defaultWindow time.Duration) gin.HandlerFunc {
	defaultMinutes := int(defaultWindow / time.Minute)
	if defaultMinutes <= 0 {
		defaultMinutes = models.DefaultPaymentWindowMinutes
	}
	return func(c *gin.Context) {
		var r ListingRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		if r.ListingType != models.ListingTypeBuy && r.ListingType != models.ListingTypeSell {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid listing_type"})
			return
		}
		if r.Category == "" {
			r.Category = models.CategoryP2P
		}
		if !r.Category.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid category"})
			return
		}
		r.DomainName = strings.TrimSpace(r.DomainName)
		if r.Category == models.CategoryDomain && r.DomainName == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "domain_name required"})
			return
		}
		if r.TokenOffered == "" || r.Currency == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "token_offered and currency required"})
			return
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil || !amount.IsPositive() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
			return
		}
		minAmount, maxAmount := amount, amount
		if r.MinAmount != "" {
			if minAmount, err = decimal.NewFromString(r.MinAmount); err != nil || minAmount.IsNegative() {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid min_amount"})
				return
			}
		}
		if r.MaxAmount != "" {
			if maxAmount, err = decimal.NewFromString(r.MaxAmount); err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid max_amount"})
				return
			}
		}
		if minAmount.GreaterThan(maxAmount) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "min_amount exceeds max_amount"})
			return
		}
		chainID := r.ChainID
		if chainID == 0 {
			chainID = defaultChainID
		}
		window := r.PaymentWindowMinutes
		if window <= 0 {
			window = defaultMinutes
		}

		listing := models.Listing{
			UserID:               userID,
			ListingType:          r.ListingType,
			Category:             r.Category,
			TokenOffered:         r.TokenOffered,
			Currency:             r.Currency,
			ChainID:              chainID,
			Amount:               amount,
			MinAmount:            minAmount,
			MaxAmount:            maxAmount,
			PaymentMethod:        r.PaymentMethod,
			PaymentWindowMinutes: window,
			DomainName:           r.DomainName,
			Conditions:           r.Conditions,
			IsActive:             true,
		}
		if err := db.Create(&listing).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, listing)
	}
}

// ListListings godoc
// @Summary Список активных объявлений
// @Tags listings
// @Security BearerAuth
// @Produce json
// @Param category query string false "p2p или domain"
// @Param type query string false "тип объявления: buy или sell"
// @Param token query string false "токен"
// @Param mine query bool false "только свои объявления, включая неактивные"
// @Param limit query int false "лимит"
// @Param offset query int false "смещение"
// @Success 200 {object} ListingsResponse
// @Failure 400 {object} ErrorResponse
// @Router /listings [get]
func ListListings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		query := db.Model(&models.Listing{})
		if c.Query("mine") == "true" {
			query = query.Where("user_id = ?", userID)
		} else {
			query = query.Where("is_active = ?", true)
		}
		if cat := models.ListingCategory(c.Query("category")); cat != "" {
			if !cat.Valid() {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid category"})
				return
			}
			query = query.Where("category = ?", cat)
		}
		if t := models.ListingType(c.Query("type")); t != "" {
			if t != models.ListingTypeBuy && t != models.ListingTypeSell {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid type"})
				return
			}
			query = query.Where("listing_type = ?", t)
		}
		if tok := c.Query("token"); tok != "" {
			query = query.Where("token_offered = ?", tok)
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		limit, offset := parsePagination(c)
		listings := []models.Listing{}
		if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&listings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, ListingsResponse{Items: listings, Total: total})
	}
}

// DisableListing godoc
// @Summary Снять объявление с публикации
// @Tags listings
// @Security BearerAuth
// @Produce json
// @Param id path int true "ID"
// @Success 200 {object} StatusResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{id}/disable [post]
func DisableListing(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		var listing models.Listing
		if err := db.Where("id = ? AND user_id = ?", id, userID).First(&listing).Error; err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
			return
		}
		if err := db.Model(&models.Listing{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{Status: "disabled"})
	}
}
