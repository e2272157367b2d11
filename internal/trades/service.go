package trades

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"escrowdesk/internal/chain"
	"escrowdesk/internal/fees"
	"escrowdesk/internal/models"
)

// Dispatcher доставляет побочные эффекты после коммита перехода.
type Dispatcher interface {
	Deliver(ctx context.Context, events []models.OutboxEvent)
}

type Options struct {
	FeeRateBps    int
	DisputeWindow time.Duration
	ChainID       int64
	Escrow        chain.EscrowClient
	Prices        chain.PriceConverter
	Dispatcher    Dispatcher
	Metrics       *Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service машина состояний сделки.
type Service struct {
	repo          *Repository
	escrow        chain.EscrowClient
	prices        chain.PriceConverter
	dispatcher    Dispatcher
	metrics       *Metrics
	log           *zap.Logger
	now           func() time.Time
	feeRateBps    int
	disputeWindow time.Duration
	chainID       int64
}

func NewService(repo *Repository, opts Options) *Service {
	s := &Service{
		repo:          repo,
		escrow:        opts.Escrow,
		prices:        opts.Prices,
		dispatcher:    opts.Dispatcher,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		now:           opts.Now,
		feeRateBps:    opts.FeeRateBps,
		disputeWindow: opts.DisputeWindow,
		chainID:       opts.ChainID,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.disputeWindow <= 0 {
		s.disputeWindow = 72 * time.Hour
	}
	return s
}

func (s *Service) Repository() *Repository { return s.repo }

// CreateInput параметры создания сделки по объявлению.
type CreateInput struct {
	ListingID     uint
	Amount        decimal.Decimal
	PaymentMethod string
	Notes         string
	Registrar     string
}

// Create открывает сделку по активному объявлению. P2P-сделка по объявлению
// продажи сразу переходит в ожидание депозита продавца с дедлайном. Сделка по
// объявлению покупки и доменная остаются в created до фондирования покупателем.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*models.Trade, error) {
	const action = models.TradeActionCreate
	l, err := s.repo.GetListing(ctx, in.ListingID)
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	if err := s.validateCreate(actor, l, &in); err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}

	t := &models.Trade{
		ListingID:       l.ID,
		ChainID:         l.ChainID,
		Amount:          in.Amount,
		Currency:        l.Currency,
		ListingCategory: l.Category,
		Status:          models.TradeStatusCreated,
	}
	if t.ChainID == 0 {
		t.ChainID = s.chainID
	}
	if l.ListingType == models.ListingTypeSell {
		t.SellerID, t.BuyerID = l.UserID, actor.UserID
	} else {
		t.BuyerID, t.SellerID = l.UserID, actor.UserID
	}
	pm := in.PaymentMethod
	if pm == "" {
		pm = l.PaymentMethod
	}
	md := models.TradeMetadata{PaymentMethod: pm, Notes: in.Notes, OriginalListingID: l.ID}
	switch {
	case l.Category == models.CategoryDomain:
		md.DomainInfo = &models.DomainInfo{DomainName: l.DomainName, Registrar: in.Registrar}
	case l.ListingType == models.ListingTypeSell:
		now := s.now()
		deadline := now.Add(l.PaymentWindow())
		t.Status = models.TradeStatusAwaitingDeposit
		t.DepositDeadline = &deadline
	}
	t.Metadata = md

	role := models.RoleBuyer
	if actor.UserID == t.SellerID {
		role = models.RoleSeller
	}
	events, err := s.repo.Create(ctx, t, EventSpec{Type: models.EventTradeCreated, ActorID: actor.UserID, ActorRole: role})
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	s.metrics.transition(action, t.Status)
	s.log.Info("trade created",
		zap.Uint("trade_id", t.ID),
		zap.Uint("listing_id", l.ID),
		zap.String("category", string(t.ListingCategory)),
		zap.String("status", string(t.Status)),
	)
	s.deliver(ctx, events)
	return t, nil
}

func (s *Service) validateCreate(actor Actor, l *models.Listing, in *CreateInput) error {
	if actor.UserID == "" {
		return forbidden("anonymous actor")
	}
	if !l.IsActive {
		return invalidTransition("listing is not active")
	}
	if l.UserID == actor.UserID {
		return validation("cannot trade with own listing")
	}
	if !l.Category.Valid() {
		return validation("invalid listing category")
	}
	if l.Category == models.CategoryDomain && in.Amount.IsZero() {
		in.Amount = l.Amount
	}
	if !in.Amount.IsPositive() {
		return validation("amount must be positive")
	}
	if l.MinAmount.IsPositive() && in.Amount.LessThan(l.MinAmount) {
		return validation("amount below listing minimum")
	}
	if l.MaxAmount.IsPositive() && in.Amount.GreaterThan(l.MaxAmount) {
		return validation("amount above listing maximum")
	}
	return nil
}

// DepositInput данные депозита продавца в эскроу.
type DepositInput struct {
	TxHash   string
	EscrowID uint64
}

// Deposit фиксирует внесение крипты продавцом. Если окно депозита истекло,
// сделка уходит в deposit_timeout, а запрос завершается DeadlineExceeded.
// Ошибка записи deposit_timeout возвращается как есть: сделка остаётся
// в awaiting_deposit до следующей попытки или прохода sweeper.
func (s *Service) Deposit(ctx context.Context, id uint, actor Actor, in DepositInput) (*models.Trade, error) {
	const action = models.TradeActionDeposit
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	if t.DepositDeadline != nil && !s.now().Before(*t.DepositDeadline) {
		if _, err := s.expire(ctx, t); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.log.Error("deposit timeout transition failed", zap.Uint("trade_id", t.ID), zap.Error(err))
			return nil, err
		}
		err := newError(CodeDeadlineExceeded, "deposit window elapsed", nil)
		s.metrics.failure(action, err)
		return nil, err
	}
	if err := validateEscrowRef(in.TxHash, in.EscrowID); err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	patch, err := s.feePatch(t)
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	patch.CryptoDepositTxHash = in.TxHash
	cols := s.escrowColumns(t, in.EscrowID)
	return s.commit(ctx, t, actor, action, patch, cols, 0, EventSpec{Type: models.EventTradeFunded})
}

// FundInput данные фондирования покупателем. Для доменных сделок не нужны:
// эскроу создаётся сервером.
type FundInput struct {
	TxHash   string
	EscrowID uint64
}

// Fund покупатель фондирует эскроу. P2P-сделка по объявлению покупки фиксирует
// эскроу, созданный покупателем, по tx hash и escrow id. Для доменной сделки объявление снимается
// с публикации, цена переводится в нативную валюту и эскроу создаётся в контракте;
// при ошибке внешнего вызова сделка и объявление остаются как были.
func (s *Service) Fund(ctx context.Context, id uint, actor Actor, in FundInput) (*models.Trade, error) {
	const action = models.TradeActionFund
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	patch, err := s.feePatch(t)
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	if t.ListingCategory != models.CategoryDomain {
		if err := validateEscrowRef(in.TxHash, in.EscrowID); err != nil {
			s.metrics.failure(action, err)
			return nil, err
		}
		patch.FundTxHash = in.TxHash
		return s.commit(ctx, t, actor, action, patch, s.escrowColumns(t, in.EscrowID), 0, EventSpec{Type: models.EventTradeFunded})
	}

	seller, err := s.repo.WalletAddress(ctx, t.SellerID)
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	if !chain.IsAddress(seller) {
		err := validation("seller has no valid wallet address")
		s.metrics.failure(action, err)
		return nil, err
	}
	if s.escrow == nil || s.prices == nil {
		err := upstream("escrow is unavailable", chain.ErrNotConfigured)
		s.metrics.failure(action, err)
		return nil, err
	}
	if err := s.repo.ClaimListing(ctx, t.ListingID); err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	restore := func() {
		if err := s.repo.ReactivateListing(context.WithoutCancel(ctx), t.ListingID); err != nil {
			s.log.Error("listing restore failed", zap.Uint("listing_id", t.ListingID), zap.Error(err))
		}
	}

	conv, err := s.prices.Convert(ctx, t.Amount, t.ChainID)
	if err != nil {
		restore()
		err = upstream("price conversion failed", err)
		s.metrics.failure(action, err)
		return nil, err
	}
	domain := ""
	if t.Metadata.DomainInfo != nil {
		domain = t.Metadata.DomainInfo.DomainName
	}
	receipt, err := s.escrow.CreateEscrow(ctx, seller, conv.NativeAmount, s.disputeWindow,
		fmt.Sprintf("trade:%d;domain:%s", t.ID, domain), true)
	if err != nil {
		restore()
		err = upstream("escrow creation failed", err)
		s.metrics.failure(action, err)
		return nil, err
	}
	patch.FundTxHash = receipt.TxHash
	patch.DomainInfo = &models.DomainInfo{
		NativeAmount: conv.NativeAmount.String(),
		NativePrice:  conv.NativePrice.String(),
	}
	updated, err := s.commit(ctx, t, actor, action, patch, s.escrowColumns(t, receipt.EscrowID), 0, EventSpec{Type: models.EventTradeFunded})
	if err != nil {
		restore()
		s.log.Error("escrow created but trade transition failed",
			zap.Uint("trade_id", t.ID),
			zap.Uint64("escrow_id", receipt.EscrowID),
			zap.String("tx_hash", receipt.TxHash),
			zap.Error(err),
		)
		return nil, err
	}
	return updated, nil
}

// PaymentSentInput подтверждение оплаты (p2p) или передачи домена.
type PaymentSentInput struct {
	PaymentProof       string
	PaymentProofImages []string
	TransferCode       string
	Registrar          string
}

// MarkPaymentSent p2p: покупатель отправил фиат (funded → payment_sent);
// domain: продавец передал домен (funded → delivered).
func (s *Service) MarkPaymentSent(ctx context.Context, id uint, actor Actor, in PaymentSentInput) (*models.Trade, error) {
	const action = models.TradeActionPaymentSent
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	patch := models.TradeMetadata{
		PaymentProof:       in.PaymentProof,
		PaymentProofImages: in.PaymentProofImages,
	}
	ev := models.EventTradePaymentSent
	if t.ListingCategory == models.CategoryDomain {
		ev = models.EventTradeDelivered
		patch.DomainInfo = &models.DomainInfo{TransferCode: in.TransferCode, Registrar: in.Registrar}
	}
	cols := map[string]any{}
	s.stamp(cols, "payment_sent_at", t.PaymentSentAt, t.DepositedAt)
	return s.commit(ctx, t, actor, action, patch, cols, 0, EventSpec{Type: ev})
}

// ConfirmInput подтверждение получения и выпуск средств.
type ConfirmInput struct {
	ReleaseTxHash string
	Rating        *int
}

// Confirm завершает сделку. Для доменной сделки выпуск средств выполняется
// вызовом контракта до записи статуса.
func (s *Service) Confirm(ctx context.Context, id uint, actor Actor, in ConfirmInput) (*models.Trade, error) {
	const action = models.TradeActionConfirm
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		err := validation("rating must be between 1 and 5")
		s.metrics.failure(action, err)
		return nil, err
	}
	claim := in.ReleaseTxHash
	if t.ListingCategory == models.CategoryDomain {
		if s.escrow == nil {
			err := upstream("escrow is unavailable", chain.ErrNotConfigured)
			s.metrics.failure(action, err)
			return nil, err
		}
		claim, err = s.escrow.ConfirmDelivery(ctx, t.EscrowID)
		if err != nil {
			err = upstream("confirm delivery failed", err)
			s.metrics.failure(action, err)
			return nil, err
		}
	} else if claim != "" && !chain.IsTxHash(claim) {
		err := validation("malformed release tx hash")
		s.metrics.failure(action, err)
		return nil, err
	}
	patch := models.TradeMetadata{ClaimTxHash: claim, Rating: in.Rating}
	cols := map[string]any{}
	s.stamp(cols, "payment_confirmed_at", t.PaymentConfirmedAt, t.DepositedAt, t.PaymentSentAt)
	s.stamp(cols, "completed_at", t.CompletedAt, t.DepositedAt, t.PaymentSentAt, t.PaymentConfirmedAt)
	return s.commit(ctx, t, actor, action, patch, cols, 0, EventSpec{Type: models.EventTradeCompleted, Rating: in.Rating})
}

// DisputeInput данные спора.
type DisputeInput struct {
	Reason         string
	Evidence       string
	EvidenceImages []string
}

// OpenDispute любая из сторон переводит сделку в спор.
func (s *Service) OpenDispute(ctx context.Context, id uint, actor Actor, in DisputeInput) (*models.Trade, error) {
	const action = models.TradeActionDispute
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	if in.Reason == "" {
		err := validation("dispute reason required")
		s.metrics.failure(action, err)
		return nil, err
	}
	patch := models.TradeMetadata{
		DisputeReason:         in.Reason,
		DisputeEvidence:       in.Evidence,
		DisputeEvidenceImages: in.EvidenceImages,
		DisputeOpenedBy:       actor.UserID,
	}
	return s.commit(ctx, t, actor, action, patch, nil, 0, EventSpec{Type: models.EventTradeDisputed})
}

// Cancel отмена сделки до фондирования. Доменное объявление возвращается в активные.
func (s *Service) Cancel(ctx context.Context, id uint, actor Actor, reason string) (*models.Trade, error) {
	const action = models.TradeActionCancel
	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	var reactivate uint
	if t.ListingCategory == models.CategoryDomain {
		reactivate = t.ListingID
	}
	return s.commit(ctx, t, actor, action, models.TradeMetadata{CancelReason: reason}, nil, reactivate, EventSpec{Type: models.EventTradeCancelled})
}

// ExpireDeposit системное истечение окна депозита; вызывается фоновой проверкой.
func (s *Service) ExpireDeposit(ctx context.Context, id uint) (*models.Trade, error) {
	t, err := s.authorize(ctx, id, System, models.TradeActionExpire)
	if err != nil {
		return nil, err
	}
	if t.DepositDeadline == nil || s.now().Before(*t.DepositDeadline) {
		err := invalidTransition("deposit window is still open")
		s.metrics.failure(models.TradeActionExpire, err)
		return nil, err
	}
	return s.expire(ctx, t)
}

func (s *Service) expire(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	patch := models.TradeMetadata{CancelReason: "deposit deadline exceeded"}
	return s.commit(ctx, t, System, models.TradeActionExpire, patch, nil, 0, EventSpec{Type: models.EventTradeDepositTimeout})
}

// Get сделка доступна сторонам и администратору.
func (s *Service) Get(ctx context.Context, id uint, actor Actor) (*models.Trade, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actor.UserID) && !actor.Admin {
		return nil, forbidden("not a trade party")
	}
	return t, nil
}

// Actions действия, доступные актору по сделке.
func (s *Service) Actions(ctx context.Context, id uint, actor Actor) ([]models.TradeAction, error) {
	t, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return AvailableActions(*t, actor), nil
}

// FeeQuote расчёт комиссии по сделке.
type FeeQuote struct {
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
	RateBps    int    `json:"rateBps"`
	Stored     bool   `json:"stored"`
	OnChainFee string `json:"onChainFee,omitempty"`
}

// FeeQuote возвращает сохранённую комиссию, если она уже зафиксирована,
// иначе расчёт по текущей ставке.
func (s *Service) FeeQuote(ctx context.Context, id uint, actor Actor) (FeeQuote, error) {
	t, err := s.Get(ctx, id, actor)
	if err != nil {
		return FeeQuote{}, err
	}
	q := FeeQuote{Amount: fees.Format(t.Amount)}
	if t.Metadata.EscrowFeeAmount != "" {
		q.Fee, q.Net, q.Stored = t.Metadata.EscrowFeeAmount, t.Metadata.EscrowNetAmount, true
		if t.Metadata.FeeRateBps != nil {
			q.RateBps = *t.Metadata.FeeRateBps
		}
	} else {
		fee, net, err := fees.Compute(t.Amount, s.feeRateBps)
		if err != nil {
			return FeeQuote{}, validation(err.Error())
		}
		q.Fee, q.Net, q.RateBps = fees.Format(fee), fees.Format(net), s.feeRateBps
	}
	if s.escrow != nil {
		if wallet, err := s.repo.WalletAddress(ctx, t.SellerID); err == nil && chain.IsAddress(wallet) {
			onChain, err := s.escrow.CalculateFee(ctx, t.Amount, wallet)
			if err != nil {
				s.log.Warn("on-chain fee lookup failed", zap.Uint("trade_id", t.ID), zap.Error(err))
			} else {
				q.OnChainFee = onChain
			}
		}
	}
	return q, nil
}

// authorize загружает сделку и проверяет: актор участник, статус допускает действие,
// роль актора допускает действие.
func (s *Service) authorize(ctx context.Context, id uint, actor Actor, action models.TradeAction) (*models.Trade, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	role := RoleOf(*t, actor, action)
	if role == models.RoleNone {
		err := forbidden("actor is not allowed to act on this trade")
		s.metrics.failure(action, err)
		return nil, err
	}
	if !CanPerformAction(t.ListingCategory, t.Status, action) {
		err := invalidTransition(fmt.Sprintf("cannot %s trade in status %s", action, t.Status))
		s.metrics.failure(action, err)
		return nil, err
	}
	if !RoleAllowed(t.ListingCategory, action, role) {
		err := forbidden(fmt.Sprintf("%s cannot %s this trade", role, action))
		s.metrics.failure(action, err)
		return nil, err
	}
	return t, nil
}

// commit записывает переход и запускает доставку побочных эффектов.
func (s *Service) commit(ctx context.Context, t *models.Trade, actor Actor, action models.TradeAction, patch models.TradeMetadata, cols map[string]any, reactivate uint, ev EventSpec) (*models.Trade, error) {
	to, ok := target(t.ListingCategory, t.Status, action)
	if !ok {
		err := invalidTransition("no transition")
		s.metrics.failure(action, err)
		return nil, err
	}
	if action == models.TradeActionResolveDispute {
		to = resolutionStatus(ev.Outcome)
	}
	ev.ActorID = actor.UserID
	ev.ActorRole = RoleOf(*t, actor, action)
	updated, events, err := s.repo.UpdateStatusAndMetadata(ctx, Transition{
		TradeID:             t.ID,
		From:                t.Status,
		To:                  to,
		Patch:               patch,
		Columns:             cols,
		Events:              []EventSpec{ev},
		ReactivateListingID: reactivate,
	})
	if err != nil {
		s.metrics.failure(action, err)
		return nil, err
	}
	s.metrics.transition(action, to)
	s.log.Info("trade transition",
		zap.Uint("trade_id", t.ID),
		zap.String("action", string(action)),
		zap.String("from", string(t.Status)),
		zap.String("to", string(to)),
		zap.String("actor", actor.UserID),
	)
	s.deliver(ctx, events)
	return updated, nil
}

func (s *Service) deliver(ctx context.Context, events []models.OutboxEvent) {
	if s.dispatcher == nil || len(events) == 0 {
		return
	}
	s.dispatcher.Deliver(context.WithoutCancel(ctx), events)
}

// feePatch считает комиссию только при первом фондировании.
func (s *Service) feePatch(t *models.Trade) (models.TradeMetadata, error) {
	if t.Metadata.EscrowFeeAmount != "" {
		return models.TradeMetadata{}, nil
	}
	fee, net, err := fees.Compute(t.Amount, s.feeRateBps)
	if err != nil {
		return models.TradeMetadata{}, validation(err.Error())
	}
	rate := s.feeRateBps
	return models.TradeMetadata{
		EscrowFeeAmount: fees.Format(fee),
		EscrowNetAmount: fees.Format(net),
		FeeRateBps:      &rate,
	}, nil
}

func (s *Service) escrowColumns(t *models.Trade, escrowID uint64) map[string]any {
	cols := map[string]any{}
	if t.EscrowID == 0 && escrowID != 0 {
		cols["escrow_id"] = escrowID
	}
	s.stamp(cols, "deposited_at", t.DepositedAt)
	return cols
}

// stamp выставляет метку времени один раз и не раньше уже записанных меток.
func (s *Service) stamp(cols map[string]any, column string, current *time.Time, floors ...*time.Time) {
	if current != nil {
		return
	}
	ts := s.now()
	for _, f := range floors {
		if f != nil && f.After(ts) {
			ts = *f
		}
	}
	cols[column] = ts
}

func validateEscrowRef(txHash string, escrowID uint64) error {
	if !chain.IsTxHash(txHash) {
		return validation("malformed tx hash")
	}
	if escrowID == 0 {
		return validation("escrow id required")
	}
	return nil
}
