// Package export writes stored chat history to files: one JSON document for
// the whole archive, or one CSV per chat.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/store"
)

// Source reads the history to be exported.
type Source interface {
	Chats() ([]store.Chat, error)
	MessagesByChat(chatID int64) ([]store.Message, error)
}

// Exporter writes history dumps into a target directory.
type Exporter struct {
	source Source
	dir    string
	logger *zap.Logger

	// now is replaceable so tests get stable file names.
	now func() time.Time
}

// New builds an Exporter writing into dir (created on demand).
func New(source Source, dir string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "exports"
	}
	return &Exporter{
		source: source,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

type chatExport struct {
	Chat     store.Chat      `json:"chat"`
	Messages []store.Message `json:"messages"`
}

type archiveExport struct {
	ExportedAt time.Time    `json:"exported_at"`
	ChatCount  int          `json:"chat_count"`
	Chats      []chatExport `json:"chats"`
}

// JSON dumps every chat with its live messages into one timestamped JSON file
// and returns its path.
func (e *Exporter) JSON() (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	chats, err := e.source.Chats()
	if err != nil {
		return "", err
	}
	archive := archiveExport{
		ExportedAt: e.now().UTC(),
		ChatCount:  len(chats),
		Chats:      make([]chatExport, 0, len(chats)),
	}
	for _, c := range chats {
		msgs, err := e.source.MessagesByChat(c.ID)
		if err != nil {
			return "", err
		}
		archive.Chats = append(archive.Chats, chatExport{Chat: c, Messages: msgs})
	}

	path := filepath.Join(e.dir, fmt.Sprintf("telegram_export_%s.json", e.stamp()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	e.logger.Info("JSON export written",
		zap.String("path", path),
		zap.Int("chats", len(chats)))
	return path, nil
}

// CSV writes one file per chat with its live messages and returns the paths.
// Chats with no messages are skipped.
func (e *Exporter) CSV() ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	chats, err := e.source.Chats()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, c := range chats {
		msgs, err := e.source.MessagesByChat(c.ID)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}
		path := filepath.Join(e.dir, fmt.Sprintf("chat_%d_%s_%s.csv", c.ID, sanitizeName(c.Name), e.stamp()))
		if err := writeChatCSV(path, msgs); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	e.logger.Info("CSV export written", zap.Int("files", len(paths)))
	return paths, nil
}

func writeChatCSV(path string, msgs []store.Message) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "date", "sender_id", "text", "media_type", "views", "forwards"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, m := range msgs {
		record := []string{
			strconv.FormatInt(m.ID, 10),
			m.Date.UTC().Format(time.RFC3339),
			strconv.FormatInt(m.SenderID, 10),
			m.Text,
			m.MediaType,
			strconv.FormatInt(m.Views, 10),
			strconv.FormatInt(m.Forwards, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (e *Exporter) stamp() string {
	return e.now().UTC().Format("20060102_150405")
}

// sanitizeName keeps file names portable.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "chat"
	}
	return b.String()
}
