package store

import "time"

// Chat is a dialog the account participates in (channel, group, or direct).
type Chat struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Kind        string    `gorm:"not null;column:kind" json:"kind"`
	FirstSeen   time.Time `gorm:"autoCreateTime" json:"first_seen"`
	LastUpdated time.Time `gorm:"autoUpdateTime" json:"last_updated"`
}

// User is a message sender.
type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	FirstSeen time.Time `gorm:"autoCreateTime" json:"first_seen"`
}

// Message is the current view of a message. Rows are never removed; deletions
// observed during a re-scan flip IsDeleted so history survives.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false;index:idx_messages_chat_date" json:"chat_id"`
	SenderID  int64     `gorm:"index" json:"sender_id"`
	Date      time.Time `gorm:"index:idx_messages_chat_date" json:"date"`
	Text      string    `json:"text"`
	MediaType string    `json:"media_type"`
	ReplyToID int64     `json:"reply_to_id"`
	Views     int64     `json:"views"`
	Forwards  int64     `json:"forwards"`
	IsDeleted bool      `gorm:"default:false" json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change actions recorded in the audit log.
const (
	ActionCreated = "created"
	ActionEdited  = "edited"
	ActionDeleted = "deleted"
)

// MessageChange is one audit row: a message appeared, changed text, or
// disappeared between scans.
type MessageChange struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   int64     `gorm:"index:idx_changes_message" json:"message_id"`
	ChatID      int64     `gorm:"index:idx_changes_message" json:"chat_id"`
	Action      string    `gorm:"not null" json:"action"`
	OldText     string    `json:"old_text"`
	NewText     string    `json:"new_text"`
	ScanSession string    `gorm:"index" json:"scan_session"`
	Timestamp   time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}

// ScanSession groups the changes detected by a single ingestion run.
type ScanSession struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	StartTime       time.Time  `gorm:"autoCreateTime" json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalChats      int        `json:"total_chats"`
	TotalMessages   int        `json:"total_messages"`
	ChangesDetected int        `json:"changes_detected"`
}
