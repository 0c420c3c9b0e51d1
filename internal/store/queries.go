package store

import (
	"fmt"
	"sort"
	"time"
)

// Chats lists every known chat.
func (s *Store) Chats() ([]Chat, error) {
	var chats []Chat
	if err := s.db.Order("id").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// MessagesByChat returns a chat's live messages in chronological order.
func (s *Store) MessagesByChat(chatID int64) ([]Message, error) {
	var msgs []Message
	err := s.db.Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Order("date").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("messages for chat %d: %w", chatID, err)
	}
	return msgs, nil
}

// ChatStats aggregates per-chat history for the dashboard.
type ChatStats struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Kind          string     `json:"kind"`
	TotalMessages int64      `json:"total_messages"`
	UniqueSenders int64      `json:"unique_senders"`
	FirstMessage  *time.Time `json:"first_message,omitempty"`
	LastMessage   *time.Time `json:"last_message,omitempty"`
	EditedCount   int64      `json:"edited_count"`
	DeletedCount  int64      `json:"deleted_count"`
}

// ChatStatistics returns per-chat aggregates ordered by message volume.
func (s *Store) ChatStatistics() ([]ChatStats, error) {
	var chats []Chat
	if err := s.db.Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	out := make([]ChatStats, 0, len(chats))
	for _, c := range chats {
		stats := ChatStats{ID: c.ID, Name: c.Name, Kind: c.Kind}

		row := s.db.Model(&Message{}).
			Select("COUNT(*) AS total, COUNT(DISTINCT sender_id) AS senders, MIN(date) AS first, MAX(date) AS last").
			Where("chat_id = ? AND is_deleted = ?", c.ID, false)
		var agg struct {
			Total   int64
			Senders int64
			First   *time.Time
			Last    *time.Time
		}
		if err := row.Scan(&agg).Error; err != nil {
			return nil, fmt.Errorf("aggregate chat %d: %w", c.ID, err)
		}
		stats.TotalMessages = agg.Total
		stats.UniqueSenders = agg.Senders
		stats.FirstMessage = agg.First
		stats.LastMessage = agg.Last

		if err := s.db.Model(&MessageChange{}).
			Where("chat_id = ? AND action = ?", c.ID, ActionEdited).
			Count(&stats.EditedCount).Error; err != nil {
			return nil, fmt.Errorf("count edits for chat %d: %w", c.ID, err)
		}
		if err := s.db.Model(&MessageChange{}).
			Where("chat_id = ? AND action = ?", c.ID, ActionDeleted).
			Count(&stats.DeletedCount).Error; err != nil {
			return nil, fmt.Errorf("count deletions for chat %d: %w", c.ID, err)
		}
		out = append(out, stats)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalMessages > out[j].TotalMessages
	})
	return out, nil
}

// ChangeCount groups audit rows by action over a period.
type ChangeCount struct {
	Action        string `json:"action"`
	Count         int64  `json:"count"`
	AffectedChats int64  `json:"affected_chats"`
}

// ActiveChat ranks chats by recent change volume.
type ActiveChat struct {
	Name         string `json:"name"`
	ChangesCount int64  `json:"changes_count"`
}

// ChangesSummary summarizes the change log over the last N days.
type ChangesSummary struct {
	PeriodDays      int           `json:"period_days"`
	ChangesByType   []ChangeCount `json:"changes_by_type"`
	MostActiveChats []ActiveChat  `json:"most_active_chats"`
}

// RecentChanges builds a summary of message changes seen in the last days.
func (s *Store) RecentChanges(days int) (ChangesSummary, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	summary := ChangesSummary{PeriodDays: days}

	err := s.db.Model(&MessageChange{}).
		Select("action, COUNT(*) AS count, COUNT(DISTINCT chat_id) AS affected_chats").
		Where("timestamp > ?", since).
		Group("action").
		Scan(&summary.ChangesByType).Error
	if err != nil {
		return ChangesSummary{}, fmt.Errorf("group changes: %w", err)
	}

	err = s.db.Model(&MessageChange{}).
		Select("chats.name AS name, COUNT(message_changes.id) AS changes_count").
		Joins("JOIN chats ON chats.id = message_changes.chat_id").
		Where("message_changes.timestamp > ?", since).
		Group("chats.id, chats.name").
		Order("changes_count DESC").
		Limit(10).
		Scan(&summary.MostActiveChats).Error
	if err != nil {
		return ChangesSummary{}, fmt.Errorf("rank active chats: %w", err)
	}
	return summary, nil
}

// ChangeEvent is one edit or deletion from the audit log, joined with its
// chat name. The watch loop publishes these to subscribers.
type ChangeEvent struct {
	ID        uint      `json:"-"`
	ChatID    int64     `json:"chat_id"`
	ChatName  string    `json:"chat_name"`
	MessageID int64     `json:"message_id"`
	Action    string    `json:"action"`
	OldText   string    `json:"old_text,omitempty"`
	NewText   string    `json:"new_text,omitempty"`
	Timestamp time.Time `json:"detected_at"`
}

// LatestChangeID returns the highest audit-row ID, or zero when the change
// log is empty. The watch loop seeds its cursor from it so that history
// recorded before the loop started is not replayed.
func (s *Store) LatestChangeID() (uint, error) {
	var id uint
	err := s.db.Model(&MessageChange{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	if err != nil {
		return 0, fmt.Errorf("latest change id: %w", err)
	}
	return id, nil
}

// ChangesAfter returns edit and delete audit rows with an ID greater than
// after, oldest first. Creation rows are new history, not changes, and are
// excluded.
func (s *Store) ChangesAfter(after uint, limit int) ([]ChangeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var events []ChangeEvent
	err := s.db.Model(&MessageChange{}).
		Select(`message_changes.id, message_changes.chat_id,
			COALESCE(chats.name, '') AS chat_name,
			message_changes.message_id, message_changes.action,
			message_changes.old_text, message_changes.new_text,
			message_changes.timestamp`).
		Joins("LEFT JOIN chats ON chats.id = message_changes.chat_id").
		Where("message_changes.id > ? AND message_changes.action IN ?",
			after, []string{ActionEdited, ActionDeleted}).
		Order("message_changes.id").
		Limit(limit).
		Scan(&events).Error
	if err != nil {
		return nil, fmt.Errorf("changes after %d: %w", after, err)
	}
	return events, nil
}

// SearchResult is one message matched by a text search.
type SearchResult struct {
	ID       int64     `json:"id"`
	ChatID   int64     `json:"chat_id"`
	ChatName string    `json:"chat_name"`
	Sender   string    `json:"sender"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`
}

// SearchMessages finds live messages containing the query text, newest first.
// chatID narrows the search to one chat when non-nil.
func (s *Store) SearchMessages(query string, chatID *int64, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := s.db.Model(&Message{}).
		Select(`messages.id, messages.chat_id, chats.name AS chat_name,
			COALESCE(NULLIF(users.username, ''), NULLIF(users.first_name, ''), 'user_' || messages.sender_id) AS sender,
			messages.date, messages.text`).
		Joins("LEFT JOIN chats ON chats.id = messages.chat_id").
		Joins("LEFT JOIN users ON users.id = messages.sender_id").
		Where("messages.text LIKE ? AND messages.is_deleted = ?", "%"+query+"%", false).
		Order("messages.date DESC").
		Limit(limit)
	if chatID != nil {
		q = q.Where("messages.chat_id = ?", *chatID)
	}

	var results []SearchResult
	if err := q.Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}
