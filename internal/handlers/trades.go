package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

type CreateTradeRequest struct {
	ListingID     uint   `json:"listing_id"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
	Registrar     string `json:"registrar"`
}

// TradeResponse сделка вместе с действиями, доступными текущему пользователю.
type TradeResponse struct {
	models.Trade
	AvailableActions []models.TradeAction `json:"availableActions"`
}

type TradesResponse struct {
	Items []models.Trade `json:"items"`
	Total int64          `json:"total"`
}

type ActionsResponse struct {
	Actions []models.TradeAction `json:"actions"`
}

func currentActor(c *gin.Context) (trades.Actor, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return trades.Actor{}, false
	}
	role, _ := c.Get("client_role")
	r, _ := role.(models.UserRole)
	return trades.Actor{UserID: userID, Admin: r == models.UserRoleAdmin}, true
}

func tradeResponse(t *models.Trade, actor trades.Actor) TradeResponse {
	return TradeResponse{Trade: *t, AvailableActions: trades.AvailableActions(*t, actor)}
}

// CreateTrade godoc
// @Summary Создать сделку по объявлению
// @Description P2P-сделка сразу ожидает депозит продавца, доменная ждёт фондирования покупателем
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body CreateTradeRequest true "данные"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades [post]
func CreateTrade(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r CreateTradeRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid amount", Code: string(trades.CodeValidation)})
			return
		}
		t, err := svc.Create(c.Request.Context(), actor, trades.CreateInput{
			ListingID:     r.ListingID,
			Amount:        amount,
			PaymentMethod: r.PaymentMethod,
			Notes:         r.Notes,
			Registrar:     r.Registrar,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tradeResponse(t, actor))
	}
}

// ListTrades godoc
// @Summary Сделки пользователя
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Param role query string false "buyer или seller"
// @Param status query string false "статусы через запятую"
// @Param category query string false "p2p или domain"
// @Param from query string false "создана не раньше (RFC3339)"
// @Param to query string false "создана не позже (RFC3339)"
// @Param min_amount query string false "минимальная сумма"
// @Param max_amount query string false "максимальная сумма"
// @Param limit query int false "лимит"
// @Param offset query int false "смещение"
// @Success 200 {object} TradesResponse
// @Failure 400 {object} ErrorResponse
// @Router /trades [get]
func ListTrades(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		f, err := tradeFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(trades.CodeValidation)})
			return
		}
		f.UserID = userID
		f.Limit, f.Offset = parsePagination(c)
		list, total, err := svc.Repository().ListByUser(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []models.Trade{}
		}
		c.JSON(http.StatusOK, TradesResponse{Items: list, Total: total})
	}
}

type filterError string

func (e filterError) Error() string { return string(e) }

func tradeFilter(c *gin.Context) (trades.TradeFilter, error) {
	var f trades.TradeFilter
	switch role := models.TradeRole(c.Query("role")); role {
	case models.RoleNone, models.RoleBuyer, models.RoleSeller:
		f.Role = role
	default:
		return f, filterError("invalid role")
	}
	if s := c.Query("status"); s != "" {
		for _, p := range strings.Split(s, ",") {
			st := models.TradeStatus(strings.TrimSpace(p))
			if !st.Valid() {
				return f, filterError("invalid status")
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if cat := models.ListingCategory(c.Query("category")); cat != "" {
		if !cat.Valid() {
			return f, filterError("invalid category")
		}
		f.Category = cat
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.Query(key); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, filterError("invalid " + key)
			}
			*dst = &ts
		}
	}
	for key, dst := range map[string]**decimal.Decimal{"min_amount": &f.MinAmount, "max_amount": &f.MaxAmount} {
		if v := c.Query(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return f, filterError("invalid " + key)
			}
			*dst = &d
		}
	}
	return f, nil
}

// TradesTable godoc
// @Summary Табличное представление сделок
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Param page query int false "страница, с 1"
// @Param page_size query int false "размер страницы, до 100"
// @Param sort query string false "id, amount, status, listingCategory, buyerId, createdAt"
// @Param desc query bool false "по убыванию"
// @Param filter query string false "глобальный фильтр"
// @Success 200 {object} trades.TablePage
// @Failure 400 {object} ErrorResponse
// @Router /trades/table [get]
func TradesTable(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		page, size := parsePage(c)
		res, err := svc.Repository().ListForTable(c.Request.Context(), userID, trades.TableQuery{
			Page:     page,
			PageSize: size,
			SortBy:   c.Query("sort"),
			Desc:     c.Query("desc") == "true",
			Filter:   c.Query("filter"),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if res.Items == nil {
			res.Items = []models.Trade{}
		}
		c.JSON(http.StatusOK, res)
	}
}

// TradeStats godoc
// @Summary Количество сделок пользователя по статусам
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]int64
// @Router /trades/stats [get]
func TradeStats(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		counts, err := svc.Repository().StatusCounts(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		out := make(map[models.TradeStatus]int64, len(models.AllTradeStatuses))
		for _, st := range models.AllTradeStatuses {
			out[st] = counts[st]
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetTrade godoc
// @Summary Сделка
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Param id path int true "ID сделки"
// @Success 200 {object} TradeResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trades/{id} [get]
func GetTrade(svc *trades.Service) gin.HandlerFunc {
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
		c.JSON(http.StatusOK, tradeResponse(t, actor))
	}
}

// GetTradeActions godoc
// @Summary Доступные действия по сделке
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Param id path int true "ID сделки"
// @Success 200 {object} ActionsResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trades/{id}/actions [get]
func GetTradeActions(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		actions, err := svc.Actions(c.Request.Context(), id, actor)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ActionsResponse{Actions: actions})
	}
}

// GetFeeQuote godoc
// @Summary Комиссия эскроу по сделке
// @Description Возвращает зафиксированную комиссию либо расчёт по текущей ставке
// @Tags trades
// @Security BearerAuth
// @Produce json
// @Param id path int true "ID сделки"
// @Success 200 {object} trades.FeeQuote
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trades/{id}/fee-quote [get]
func GetFeeQuote(svc *trades.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		q, err := svc.FeeQuote(c.Request.Context(), id, actor)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, q)
	}
}
