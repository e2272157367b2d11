package tradechat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escrowdesk/internal/models"
	"escrowdesk/internal/realtime"
	"escrowdesk/internal/storage"
)

// EventMessage realtime-событие нового сообщения в канале сделки.
const EventMessage = "chat.message"

const maxContentLength = 4000

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrTooLong      = errors.New("message content is too long")
)

// Service ведёт чат сделки: системные сообщения по событиям и сообщения сторон.
type Service struct {
	db    *gorm.DB
	cache *Cache
	b     realtime.Broadcaster
	store storage.Storage
	log   *zap.Logger
	limit int
}

// NewService создаёт сервис чата. cache, b и store могут быть nil.
func NewService(db *gorm.DB, cache *Cache, b realtime.Broadcaster, store storage.Storage, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	limit := 100
	if cache != nil {
		limit = int(cache.limit)
	}
	return &Service{db: db, cache: cache, b: b, store: store, log: log, limit: limit}
}

// ChatFor возвращает чат сделки, создавая его при первом обращении.
func (s *Service) ChatFor(ctx context.Context, tradeID uint) (*models.TradeChat, error) {
	var chat models.TradeChat
	err := s.db.WithContext(ctx).
		Where(models.TradeChat{TradeID: tradeID}).
		FirstOrCreate(&chat).Error
	if err != nil {
		return nil, fmt.Errorf("trade chat: %w", err)
	}
	return &chat, nil
}

// Handle пишет системное сообщение по событию outbox. Для TRADE_CREATED
// только открывается чат.
func (s *Service) Handle(ctx context.Context, ev models.TradeEvent) error {
	chat, err := s.ChatFor(ctx, ev.Trade.ID)
	if err != nil {
		return err
	}
	content, attachments, ok := systemMessage(ev)
	if !ok {
		return nil
	}
	eventID := ev.EventID
	msg := models.TradeMessage{
		ChatID:      chat.ID,
		Type:        models.MessageTypeSystem,
		Content:     content,
		Attachments: attachments,
		EventID:     &eventID,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&msg)
	if res.Error != nil {
		return fmt.Errorf("create system message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	s.publish(ctx, ev.Trade.ID, chat.ID, msg)
	return nil
}

// SendSystemMessage пишет системное сообщение вне жизненного цикла сделки.
func (s *Service) SendSystemMessage(ctx context.Context, tradeID uint, content string, attachments []string) (*models.TradeMessage, error) {
	return s.post(ctx, tradeID, nil, models.MessageTypeSystem, content, attachments)
}

// PostMessage текстовое сообщение стороны сделки.
func (s *Service) PostMessage(ctx context.Context, tradeID uint, userID, content string) (*models.TradeMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > maxContentLength {
		return nil, ErrTooLong
	}
	return s.post(ctx, tradeID, &userID, models.MessageTypeText, content, nil)
}

// PostFile загружает файл в хранилище и публикует сообщение со ссылкой на объект.
func (s *Service) PostFile(ctx context.Context, tradeID uint, userID, filename string, r io.Reader, size int64, contentType string) (*models.TradeMessage, error) {
	if s.store == nil {
		return nil, errors.New("file storage is not configured")
	}
	name, err := storage.ObjectName(tradeID, "chat", filename)
	if err != nil {
		return nil, err
	}
	obj, err := s.store.Upload(ctx, name, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return s.post(ctx, tradeID, &userID, models.MessageTypeFile, filename, []string{obj})
}

func (s *Service) post(ctx context.Context, tradeID uint, userID *string, typ models.MessageType, content string, attachments []string) (*models.TradeMessage, error) {
	chat, err := s.ChatFor(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	msg := models.TradeMessage{
		ChatID:      chat.ID,
		UserID:      userID,
		Type:        typ,
		Content:     content,
		Attachments: attachments,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if userID != nil {
		var u models.User
		if err := s.db.WithContext(ctx).Select("username").Where("id = ?", *userID).First(&u).Error; err == nil {
			msg.SenderName = u.Username
		}
	}
	s.publish(ctx, tradeID, chat.ID, msg)
	return &msg, nil
}

func (s *Service) publish(ctx context.Context, tradeID uint, chatID string, msg models.TradeMessage) {
	if s.cache != nil {
		if err := s.cache.Append(ctx, chatID, msg); err != nil {
			s.log.Warn("chat cache append failed", zap.Uint("trade_id", tradeID), zap.Error(err))
		}
	}
	if s.b != nil {
		if err := s.b.Broadcast(ctx, realtime.TradeChannel(tradeID), EventMessage, msg); err != nil {
			s.log.Warn("chat broadcast failed", zap.Uint("trade_id", tradeID), zap.Error(err))
		}
	}
}

// History последние сообщения чата от старых к новым. Сначала читается кэш,
// при промахе история загружается из БД и прогревает кэш.
func (s *Service) History(ctx context.Context, tradeID uint) ([]models.TradeMessage, error) {
	chat, err := s.ChatFor(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		msgs, ok, err := s.cache.History(ctx, chat.ID)
		if err != nil {
			s.log.Warn("chat cache read failed", zap.Uint("trade_id", tradeID), zap.Error(err))
		} else if ok {
			return msgs, nil
		}
	}
	var msgs []models.TradeMessage
	err = s.db.WithContext(ctx).
		Where("chat_id = ?", chat.ID).
		Order("created_at DESC").Order("id DESC").
		Limit(s.limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if s.cache != nil {
		if err := s.cache.Fill(ctx, chat.ID, msgs); err != nil {
			s.log.Warn("chat cache fill failed", zap.Uint("trade_id", tradeID), zap.Error(err))
		}
	}
	return msgs, nil
}
