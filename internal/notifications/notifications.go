package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escrowdesk/internal/models"
	"escrowdesk/internal/realtime"
)

// EventNotification имя realtime-события с новым уведомлением.
const EventNotification = "notification"

const notificationType = "trade"

var ErrNotFound = errors.New("notification not found")

// Service пишет уведомления по событиям сделки и обслуживает их чтение.
type Service struct {
	db  *gorm.DB
	b   realtime.Broadcaster
	log *zap.Logger
}

func NewService(db *gorm.DB, b realtime.Broadcaster, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, b: b, log: log}
}

// Handle создаёт по уведомлению для покупателя и продавца. Повторная доставка
// того же события не создаёт дубликатов: (event_id, user_id) уникальны.
func (s *Service) Handle(ctx context.Context, ev models.TradeEvent) error {
	t := ev.Trade
	var errs []error
	for _, side := range []struct {
		userID string
		role   models.TradeRole
	}{
		{t.BuyerID, models.RoleBuyer},
		{t.SellerID, models.RoleSeller},
	} {
		if err := s.notify(ctx, ev, side.userID, side.role); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, ev models.TradeEvent, userID string, role models.TradeRole) error {
	payload, err := json.Marshal(map[string]any{
		"tradeId": ev.Trade.ID,
		"status":  ev.Trade.Status,
		"event":   ev.Type,
		"role":    role,
	})
	if err != nil {
		return err
	}
	msg := copyFor(ev, role)
	eventID := ev.EventID
	n := models.Notification{
		UserID:           userID,
		EventID:          &eventID,
		Action:           strings.ToLower(string(ev.Type)),
		Title:            msg.title,
		Message:          msg.body,
		ActionURL:        fmt.Sprintf("/trades/%d", ev.Trade.ID),
		NotificationType: notificationType,
		Payload:          datatypes.JSON(payload),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&n)
	if res.Error != nil {
		return fmt.Errorf("create notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	s.push(ctx, n)
	return nil
}

// push отправляет уведомление в realtime-канал пользователя и отмечает отправку.
func (s *Service) push(ctx context.Context, n models.Notification) {
	if s.b == nil {
		return
	}
	if err := s.b.Broadcast(ctx, realtime.UserNotificationsChannel(n.UserID), EventNotification, n); err != nil {
		s.log.Warn("notification push failed", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	now := time.Now()
	s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Update("sent_at", now)
}

// List уведомления пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var list []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// MarkRead отмечает уведомление прочитанным.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	return s.setRead(ctx, userID, id, true)
}

// MarkUnread снимает отметку о прочтении.
func (s *Service) MarkUnread(ctx context.Context, userID, id string) (*models.Notification, error) {
	return s.setRead(ctx, userID, id, false)
}

func (s *Service) setRead(ctx context.Context, userID, id string, read bool) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var val any
	if read {
		if n.ReadAt != nil {
			return &n, nil
		}
		now := time.Now()
		val = now
		n.ReadAt = &now
	} else {
		n.ReadAt = nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Update("read_at", val).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllRead отмечает все непрочитанные уведомления пользователя.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", time.Now())
	return res.RowsAffected, res.Error
}

// UnreadCount число непрочитанных уведомлений.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&n).Error
	return n, err
}
