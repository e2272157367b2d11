package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

type EscrowRefRequest struct {
	TxHash   string `json:"tx_hash"`
	EscrowID uint64 `json:"escrow_id"`
}

type PaymentSentRequest struct {
	PaymentProof       string   `json:"payment_proof"`
	PaymentProofImages []string `json:"payment_proof_images"`
	TransferCode       string   `json:"transfer_code"`
	Registrar          string   `json:"registrar"`
}

type ConfirmRequest struct {
	ReleaseTxHash string `json:"release_tx_hash"`
	Rating        *int   `json:"rating"`
}

type DisputeRequest struct {
	Reason         string   `json:"reason"`
	Evidence       string   `json:"evidence"`
	EvidenceImages []string `json:"evidence_images"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ResolveRequest struct {
	Outcome      models.DisputeOutcome `json:"outcome"`
	BuyerPercent *int                  `json:"buyer_percent"`
	Note         string                `json:"note"`
}

// bindOptionalJSON разбирает тело запроса; пустое тело допустимо.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return false
	}
	return true
}

// tradeAction общая обвязка действий над сделкой: id из пути, актор из
// контекста, ответ с обновлённой сделкой.
func tradeAction(run func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		t, err := run(c, id, actor)
		if err != nil {
			if !c.Writer.Written() {
				respondError(c, err)
			}
			return
		}
		c.JSON(http.StatusOK, tradeResponse(t, actor))
	}
}

var errBadRequest = errors.New("bad request")

// DepositTrade godoc
// @Summary Депозит продавца в эскроу
// @Description P2P: продавец сообщает хеш транзакции или id эскроу. После дедлайна возвращает 410.
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body EscrowRefRequest true "ссылка на эскроу"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /trades/{id}/deposit [post]
func DepositTrade(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r EscrowRefRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.Deposit(c.Request.Context(), id, actor, trades.DepositInput{TxHash: r.TxHash, EscrowID: r.EscrowID})
	})
}

// FundTrade godoc
// @Summary Фондирование эскроу покупателем
// @Description Для доменной сделки эскроу создаётся сервером, тело запроса не требуется
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body EscrowRefRequest false "ссылка на эскроу"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /trades/{id}/fund [post]
func FundTrade(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r EscrowRefRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.Fund(c.Request.Context(), id, actor, trades.FundInput{TxHash: r.TxHash, EscrowID: r.EscrowID})
	})
}

// PaymentSent godoc
// @Summary Оплата отправлена / домен передан
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body PaymentSentRequest false "подтверждение оплаты"
// @Success 200 {object} TradeResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{id}/payment-sent [post]
func PaymentSent(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r PaymentSentRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.MarkPaymentSent(c.Request.Context(), id, actor, trades.PaymentSentInput{
			PaymentProof:       r.PaymentProof,
			PaymentProofImages: r.PaymentProofImages,
			TransferCode:       r.TransferCode,
			Registrar:          r.Registrar,
		})
	})
}

// ConfirmTrade godoc
// @Summary Подтверждение и выпуск средств
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body ConfirmRequest false "оценка контрагента 1-5"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /trades/{id}/confirm [post]
func ConfirmTrade(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r ConfirmRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.Confirm(c.Request.Context(), id, actor, trades.ConfirmInput{ReleaseTxHash: r.ReleaseTxHash, Rating: r.Rating})
	})
}

// DisputeTrade godoc
// @Summary Открыть спор
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body DisputeRequest true "причина и доказательства"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{id}/dispute [post]
func DisputeTrade(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r DisputeRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.OpenDispute(c.Request.Context(), id, actor, trades.DisputeInput{
			Reason:         r.Reason,
			Evidence:       r.Evidence,
			EvidenceImages: r.EvidenceImages,
		})
	})
}

// CancelTrade godoc
// @Summary Отменить сделку
// @Tags trades
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body CancelRequest false "причина"
// @Success 200 {object} TradeResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{id}/cancel [post]
func CancelTrade(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r CancelRequest
		if !bindOptionalJSON(c, &r) {
			return nil, errBadRequest
		}
		return svc.Cancel(c.Request.Context(), id, actor, r.Reason)
	})
}

// ResolveDispute godoc
// @Summary Решение спора арбитром
// @Description release_to_seller и split завершают сделку, refund_to_buyer отменяет
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "ID сделки"
// @Param input body ResolveRequest true "решение"
// @Success 200 {object} TradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/trades/{id}/resolve [post]
func ResolveDispute(svc *trades.Service) gin.HandlerFunc {
	return tradeAction(func(c *gin.Context, id uint, actor trades.Actor) (*models.Trade, error) {
		var r ResolveRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return nil, errBadRequest
		}
		return svc.ResolveDispute(c.Request.Context(), id, actor, trades.ResolveInput{
			Outcome:      r.Outcome,
			BuyerPercent: r.BuyerPercent,
			Note:         r.Note,
		})
	})
}
