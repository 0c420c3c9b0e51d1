// Package store persists chat history and the change log across ingestion
// runs. SQLite is the default backend; a postgres:// URL switches to
// PostgreSQL with the same schema.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrUnsupportedURL is returned by Open for database URLs it cannot parse.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Store wraps the gorm handle with the history-tracking operations the
// ingestion job and the dashboard API need.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database named by url (sqlite://path or a postgres://
// DSN) and migrates the schema.
func Open(url string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Chat{}, &User{}, &Message{}, &MessageChange{}, &ScanSession{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("history store ready", zap.String("url", url))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// SaveChat inserts or refreshes a chat row.
func (s *Store) SaveChat(chat Chat) error {
	if err := s.db.Save(&chat).Error; err != nil {
		return fmt.Errorf("save chat %d: %w", chat.ID, err)
	}
	return nil
}

// SaveUser inserts a sender if it has not been seen before.
func (s *Store) SaveUser(user User) error {
	err := s.db.Where(User{ID: user.ID}).FirstOrCreate(&user).Error
	if err != nil {
		return fmt.Errorf("save user %d: %w", user.ID, err)
	}
	return nil
}

// SaveMessageWithHistory upserts a message and records what happened in the
// change log: a fresh row logs "created", a text difference on a live row
// logs "edited" with both texts. Returns whether the message was new and
// whether an edit was detected.
func (s *Store) SaveMessageWithHistory(msg Message, sessionID string) (created, edited bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing Message
		findErr := tx.Where("id = ? AND chat_id = ?", msg.ID, msg.ChatID).First(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			if err := tx.Create(&msg).Error; err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			created = true
			return logChange(tx, msg.ID, msg.ChatID, ActionCreated, "", msg.Text, sessionID)
		case findErr != nil:
			return fmt.Errorf("lookup message: %w", findErr)
		}

		if existing.Text != msg.Text && !existing.IsDeleted {
			edited = true
			if err := logChange(tx, msg.ID, msg.ChatID, ActionEdited, existing.Text, msg.Text, sessionID); err != nil {
				return err
			}
		}
		updates := map[string]any{
			"text":        msg.Text,
			"date":        msg.Date,
			"media_type":  msg.MediaType,
			"reply_to_id": msg.ReplyToID,
			"views":       msg.Views,
			"forwards":    msg.Forwards,
		}
		if err := tx.Model(&Message{}).
			Where("id = ? AND chat_id = ?", msg.ID, msg.ChatID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, false, fmt.Errorf("save message %d/%d: %w", msg.ChatID, msg.ID, err)
	}
	return created, edited, nil
}

// MarkDeletedMessages flags live messages of a chat that were absent from the
// latest full scan and logs a "deleted" change for each. presentIDs is the
// set of message IDs the scan actually saw.
func (s *Store) MarkDeletedMessages(chatID int64, presentIDs []int64, sessionID string) (int64, error) {
	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("chat_id = ? AND is_deleted = ?", chatID, false)
		if len(presentIDs) > 0 {
			q = q.Where("id NOT IN ?", presentIDs)
		}
		var missing []Message
		if err := q.Find(&missing).Error; err != nil {
			return fmt.Errorf("find missing messages: %w", err)
		}
		for _, m := range missing {
			if err := tx.Model(&Message{}).
				Where("id = ? AND chat_id = ?", m.ID, m.ChatID).
				Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("flag deleted message: %w", err)
			}
			if err := logChange(tx, m.ID, m.ChatID, ActionDeleted, m.Text, "", sessionID); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark deleted in chat %d: %w", chatID, err)
	}
	return deleted, nil
}

// CachedMessageCount reports how many live messages are stored for a chat.
func (s *Store) CachedMessageCount(chatID int64) (int64, error) {
	var count int64
	err := s.db.Model(&Message{}).
		Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count messages for chat %d: %w", chatID, err)
	}
	return count, nil
}

// LastMessageDate returns the newest stored message timestamp for a chat,
// ok=false when the chat has no messages. The ingestion job uses it to fetch
// only newer messages on repeat runs.
func (s *Store) LastMessageDate(chatID int64) (time.Time, bool, error) {
	var msg Message
	err := s.db.Where("chat_id = ?", chatID).
		Order("date DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last message date for chat %d: %w", chatID, err)
	}
	return msg.Date, true, nil
}

// CreateScanSession opens a session that groups the changes of one run.
func (s *Store) CreateScanSession() (string, error) {
	id := fmt.Sprintf("scan_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	if err := s.db.Create(&ScanSession{ID: id}).Error; err != nil {
		return "", fmt.Errorf("create scan session: %w", err)
	}
	return id, nil
}

// SessionTotals summarizes a finished run.
type SessionTotals struct {
	TotalChats    int
	TotalMessages int
}

// CloseScanSession stamps the end time and totals; the change count is taken
// from the audit rows logged under the session.
func (s *Store) CloseScanSession(id string, totals SessionTotals) error {
	var changes int64
	if err := s.db.Model(&MessageChange{}).Where("scan_session = ?", id).Count(&changes).Error; err != nil {
		return fmt.Errorf("count session changes: %w", err)
	}
	now := time.Now().UTC()
	err := s.db.Model(&ScanSession{}).Where("id = ?", id).Updates(map[string]any{
		"end_time":         &now,
		"total_chats":      totals.TotalChats,
		"total_messages":   totals.TotalMessages,
		"changes_detected": changes,
	}).Error
	if err != nil {
		return fmt.Errorf("close scan session %s: %w", id, err)
	}
	return nil
}

func logChange(tx *gorm.DB, messageID, chatID int64, action, oldText, newText, sessionID string) error {
	change := MessageChange{
		MessageID:   messageID,
		ChatID:      chatID,
		Action:      action,
		OldText:     oldText,
		NewText:     newText,
		ScanSession: sessionID,
	}
	if err := tx.Create(&change).Error; err != nil {
		return fmt.Errorf("log %s change: %w", action, err)
	}
	return nil
}
