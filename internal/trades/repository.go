package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escrowdesk/internal/models"
)

// eventNamespace пространство имён для детерминированных ключей идемпотентности.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("escrowdesk/trade-events"))

// IdempotencyKey ключ события outbox: одна и та же пара (сделка, событие, статус)
// всегда даёт один ключ.
func IdempotencyKey(tradeID uint, event models.TradeEventType, status models.TradeStatus) string {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%d|%s|%s", tradeID, event, status))).String()
}

// EventSpec описание побочного эффекта, который нужно записать в outbox.
type EventSpec struct {
	Type      models.TradeEventType
	ActorID   string
	ActorRole models.TradeRole
	Rating    *int
	Outcome   models.DisputeOutcome
}

// Transition атомарное изменение статуса сделки.
type Transition struct {
	TradeID  uint
	From     models.TradeStatus
	To       models.TradeStatus
	// Patch дописывается к метаданным, прочитанным внутри транзакции
	Patch models.TradeMetadata
	// Columns дополнительные колонки: метки времени, escrow_id
	Columns map[string]any
	Events  []EventSpec
	// ReactivateListingID объявление, которое нужно вернуть в активные в той же транзакции
	ReactivateListingID uint
}

// Repository единственный путь изменения статуса сделки.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB отдаёт соединение для read-only запросов соседних сервисов.
func (r *Repository) DB() *gorm.DB { return r.db }

// Create сохраняет новую сделку вместе с событиями outbox.
func (r *Repository) Create(ctx context.Context, trade *models.Trade, events ...EventSpec) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(trade).Error; err != nil {
			return fmt.Errorf("create trade: %w", err)
		}
		var err error
		out, err = writeOutbox(tx, *trade, "", events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID загружает сделку.
func (r *Repository) GetByID(ctx context.Context, id uint) (*models.Trade, error) {
	var t models.Trade
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("trade not found")
		}
		return nil, fmt.Errorf("load trade: %w", err)
	}
	return &t, nil
}

// UpdateStatusAndMetadata применяет переход условным UPDATE ... WHERE status = from.
// Метаданные перечитываются под блокировкой строки и дополняются patch, так что
// ключи, записанные параллельно без смены статуса, не теряются.
// Если статус уже другой, возвращается InvalidTransition и ничего не пишется.
func (r *Repository) UpdateStatusAndMetadata(ctx context.Context, tr Transition) (*models.Trade, []models.OutboxEvent, error) {
	var (
		trade  models.Trade
		events []models.OutboxEvent
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockTrade(tx, tr.TradeID, tr.From)
		if err != nil {
			return err
		}
		upd := map[string]any{
			"status":     tr.To,
			"metadata":   current.Metadata.Merge(tr.Patch),
			"updated_at": time.Now(),
		}
		for k, v := range tr.Columns {
			upd[k] = v
		}
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", tr.TradeID, tr.From).
			Updates(upd)
		if res.Error != nil {
			return fmt.Errorf("update trade: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invalidTransition("status changed")
		}
		if tr.ReactivateListingID != 0 {
			if err := reactivateListing(tx, tr.ReactivateListingID); err != nil {
				return err
			}
		}
		if err := tx.First(&trade, tr.TradeID).Error; err != nil {
			return fmt.Errorf("reload trade: %w", err)
		}
		events, err = writeOutbox(tx, trade, tr.From, tr.Events)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &trade, events, nil
}

// PatchMetadata дописывает поля метаданных без смены статуса (например, блок
// подтверждения эскроу). Патч сливается со свежей строкой под блокировкой.
func (r *Repository) PatchMetadata(ctx context.Context, id uint, status models.TradeStatus, patch models.TradeMetadata) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockTrade(tx, id, status)
		if err != nil {
			return err
		}
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", id, status).
			Updates(map[string]any{
				"metadata":   current.Metadata.Merge(patch),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("patch metadata: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invalidTransition("status changed")
		}
		return nil
	})
}

// lockTrade читает строку сделки с SELECT ... FOR UPDATE и проверяет статус.
func lockTrade(tx *gorm.DB, id uint, status models.TradeStatus) (*models.Trade, error) {
	var t models.Trade
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("trade not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock trade: %w", err)
	}
	if t.Status != status {
		return nil, invalidTransition("status changed")
	}
	return &t, nil
}

func writeOutbox(tx *gorm.DB, trade models.Trade, from models.TradeStatus, specs []EventSpec) ([]models.OutboxEvent, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	now := time.Now()
	rows := make([]models.OutboxEvent, 0, len(specs))
	for _, s := range specs {
		key := IdempotencyKey(trade.ID, s.Type, trade.Status)
		payload, err := json.Marshal(models.TradeEvent{
			EventID:   key,
			Type:      s.Type,
			ActorID:   s.ActorID,
			ActorRole: s.ActorRole,
			From:      from,
			Trade:     trade,
			Rating:    s.Rating,
			Outcome:   s.Outcome,
			At:        now,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		rows = append(rows, models.OutboxEvent{
			IdempotencyKey: key,
			TradeID:        trade.ID,
			EventType:      s.Type,
			Payload:        datatypes.JSON(payload),
			NextAttemptAt:  now.UTC(),
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("write outbox: %w", err)
	}
	return rows, nil
}

// TradeFilter фильтры списка сделок пользователя.
type TradeFilter struct {
	UserID    string
	Role      models.TradeRole
	Statuses  []models.TradeStatus
	Category  models.ListingCategory
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Limit     int
	Offset    int
}

// ListByUser возвращает страницу сделок пользователя и общее количество.
func (r *Repository) ListByUser(ctx context.Context, f TradeFilter) ([]models.Trade, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Trade{})
	switch f.Role {
	case models.RoleBuyer:
		q = q.Where("buyer_id = ?", f.UserID)
	case models.RoleSeller:
		q = q.Where("seller_id = ?", f.UserID)
	case models.RoleNone:
		q = q.Where("(buyer_id = ? OR seller_id = ?)", f.UserID, f.UserID)
	default:
		return nil, 0, validation("invalid role filter")
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Category != "" {
		q = q.Where("listing_category = ?", f.Category)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count trades: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var list []models.Trade
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(f.Offset).Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("list trades: %w", err)
	}
	return list, total, nil
}

// sortColumns допустимые колонки сортировки таблицы.
var sortColumns = map[string]string{
	"id":              "id",
	"amount":          "amount",
	"status":          "status",
	"listingCategory": "listing_category",
	"buyerId":         "buyer_id",
	"createdAt":       "created_at",
}

// TableQuery параметры табличного представления.
type TableQuery struct {
	Page     int
	PageSize int
	SortBy   string
	Desc     bool
	Filter   string
}

type TablePage struct {
	Items    []models.Trade `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// ListForTable страница сделок пользователя с сортировкой и глобальным фильтром.
func (r *Repository) ListForTable(ctx context.Context, userID string, tq TableQuery) (TablePage, error) {
	col := "created_at"
	if tq.SortBy != "" {
		c, ok := sortColumns[tq.SortBy]
		if !ok {
			return TablePage{}, validation("unsupported sort column")
		}
		col = c
	}
	if tq.Page < 1 {
		tq.Page = 1
	}
	if tq.PageSize <= 0 || tq.PageSize > 100 {
		tq.PageSize = 20
	}
	q := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("(buyer_id = ? OR seller_id = ?)", userID, userID)
	if f := strings.TrimSpace(tq.Filter); f != "" {
		like := "%" + strings.ToLower(f) + "%"
		cond := r.db.Where("LOWER(status) LIKE ?", like).
			Or("LOWER(currency) LIKE ?", like).
			Or("LOWER(listing_category) LIKE ?", like)
		if id, err := strconv.ParseUint(f, 10, 64); err == nil {
			cond = cond.Or("id = ?", id)
		}
		q = q.Where(cond)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return TablePage{}, fmt.Errorf("count trades: %w", err)
	}
	dir := "ASC"
	if tq.Desc {
		dir = "DESC"
	}
	var items []models.Trade
	if err := q.Order(col + " " + dir).Order("id " + dir).
		Limit(tq.PageSize).Offset((tq.Page - 1) * tq.PageSize).
		Find(&items).Error; err != nil {
		return TablePage{}, fmt.Errorf("list trades: %w", err)
	}
	return TablePage{Items: items, Total: total, Page: tq.Page, PageSize: tq.PageSize}, nil
}

// StatusCounts количество сделок пользователя по статусам.
func (r *Repository) StatusCounts(ctx context.Context, userID string) (map[models.TradeStatus]int64, error) {
	var rows []struct {
		Status models.TradeStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Trade{}).
		Select("status, COUNT(*) AS count").
		Where("(buyer_id = ? OR seller_id = ?)", userID, userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	out := make(map[models.TradeStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// ExpiredDeposits сделки с истёкшим окном депозита.
func (r *Repository) ExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]models.Trade, error) {
	var list []models.Trade
	if err := r.db.WithContext(ctx).
		Where("status = ? AND deposit_deadline IS NOT NULL AND deposit_deadline <= ?", models.TradeStatusAwaitingDeposit, now).
		Order("deposit_deadline").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("expired deposits: %w", err)
	}
	return list, nil
}

// FindByEscrowID ищет сделку по идентификатору эскроу.
func (r *Repository) FindByEscrowID(ctx context.Context, escrowID uint64) (*models.Trade, error) {
	var t models.Trade
	if err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("trade not found")
		}
		return nil, fmt.Errorf("load trade: %w", err)
	}
	return &t, nil
}

// GetListing загружает объявление.
func (r *Repository) GetListing(ctx context.Context, id uint) (*models.Listing, error) {
	var l models.Listing
	if err := r.db.WithContext(ctx).First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("listing not found")
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}
	return &l, nil
}

// ClaimListing снимает доменное объявление с публикации. Побеждает только
// один из конкурирующих запросов.
func (r *Repository) ClaimListing(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("claim listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return invalidTransition("listing is not active")
	}
	return nil
}

// ReactivateListing возвращает объявление в активные.
func (r *Repository) ReactivateListing(ctx context.Context, id uint) error {
	return reactivateListing(r.db.WithContext(ctx), id)
}

// holdingStatuses статусы, при которых объявление занято сделкой.
var holdingStatuses = []models.TradeStatus{
	models.TradeStatusFunded,
	models.TradeStatusPaymentSent,
	models.TradeStatusDelivered,
	models.TradeStatusDisputed,
	models.TradeStatusCompleted,
}

// reactivateListing не трогает объявление, пока его удерживает другая сделка.
func reactivateListing(tx *gorm.DB, id uint) error {
	held := tx.Session(&gorm.Session{NewDB: true}).Model(&models.Trade{}).
		Select("1").
		Where("listing_id = ? AND status IN ?", id, holdingStatuses)
	if err := tx.Session(&gorm.Session{NewDB: true}).Model(&models.Listing{}).
		Where("id = ? AND is_active = ?", id, false).
		Where("NOT EXISTS (?)", held).
		Update("is_active", true).Error; err != nil {
		return fmt.Errorf("reactivate listing: %w", err)
	}
	return nil
}

// WalletAddress адрес кошелька пользователя.
func (r *Repository) WalletAddress(ctx context.Context, userID string) (string, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Select("id", "wallet_address").First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", notFound("user not found")
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	return u.WalletAddress, nil
}
