package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://:memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func testMessage(id, chatID int64, text string) Message {
	return Message{
		ID:     id,
		ChatID: chatID,
		Date:   time.Date(2024, 3, 1, 10, 0, int(id), 0, time.UTC),
		Text:   text,
	}
}

func TestOpen_RejectsUnknownURL(t *testing.T) {
	t.Parallel()

	_, err := Open("mysql://nope", nil)
	require.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestSaveMessageWithHistory_CreateAndEdit(t *testing.T) {
	s := openTestStore(t)
	session, err := s.CreateScanSession()
	require.NoError(t, err)

	created, edited, err := s.SaveMessageWithHistory(testMessage(1, 100, "hello"), session)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, edited)

	// Same text again: no new audit row.
	created, edited, err = s.SaveMessageWithHistory(testMessage(1, 100, "hello"), session)
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, edited)

	// Edited text: audit row with old and new.
	created, edited, err = s.SaveMessageWithHistory(testMessage(1, 100, "hello, edited"), session)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, edited)

	var changes []MessageChange
	require.NoError(t, s.db.Order("id").Find(&changes).Error)
	require.Len(t, changes, 2)
	require.Equal(t, ActionCreated, changes[0].Action)
	require.Equal(t, ActionEdited, changes[1].Action)
	require.Equal(t, "hello", changes[1].OldText)
	require.Equal(t, "hello, edited", changes[1].NewText)

	var msg Message
	require.NoError(t, s.db.Where("id = ? AND chat_id = ?", 1, 100).First(&msg).Error)
	require.Equal(t, "hello, edited", msg.Text)
}

func TestMarkDeletedMessages(t *testing.T) {
	s := openTestStore(t)
	session, err := s.CreateScanSession()
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		_, _, err := s.SaveMessageWithHistory(testMessage(i, 100, "msg"), session)
		require.NoError(t, err)
	}

	// A later scan only saw messages 1 and 3.
	deleted, err := s.MarkDeletedMessages(100, []int64{1, 3}, session)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	count, err := s.CachedMessageCount(100)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	var change MessageChange
	require.NoError(t, s.db.Where("action = ?", ActionDeleted).First(&change).Error)
	require.EqualValues(t, 2, change.MessageID)

	// Re-flagging must not double count.
	deleted, err = s.MarkDeletedMessages(100, []int64{1, 3}, session)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestLastMessageDate(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LastMessageDate(100)
	require.NoError(t, err)
	require.False(t, ok)

	session, err := s.CreateScanSession()
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		_, _, err := s.SaveMessageWithHistory(testMessage(i, 100, "msg"), session)
		require.NoError(t, err)
	}

	last, ok, err := s.LastMessageDate(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 3, 0, time.UTC), last)
}

func TestScanSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	session, err := s.CreateScanSession()
	require.NoError(t, err)

	_, _, err = s.SaveMessageWithHistory(testMessage(1, 100, "hello"), session)
	require.NoError(t, err)

	require.NoError(t, s.CloseScanSession(session, SessionTotals{TotalChats: 1, TotalMessages: 1}))

	var row ScanSession
	require.NoError(t, s.db.Where("id = ?", session).First(&row).Error)
	require.NotNil(t, row.EndTime)
	require.Equal(t, 1, row.TotalChats)
	require.Equal(t, 1, row.ChangesDetected)
}

func TestChatStatisticsAndChanges(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat(Chat{ID: 100, Name: "team", Kind: "group"}))
	require.NoError(t, s.SaveChat(Chat{ID: 200, Name: "news", Kind: "channel"}))
	require.NoError(t, s.SaveUser(User{ID: 7, Username: "alice"}))

	session, err := s.CreateScanSession()
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		msg := testMessage(i, 100, "text")
		msg.SenderID = 7
		_, _, err := s.SaveMessageWithHistory(msg, session)
		require.NoError(t, err)
	}
	_, _, err = s.SaveMessageWithHistory(testMessage(1, 200, "post"), session)
	require.NoError(t, err)
	_, _, err = s.SaveMessageWithHistory(testMessage(1, 200, "post, edited"), session)
	require.NoError(t, err)

	stats, err := s.ChatStatistics()
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "team", stats[0].Name, "ordered by volume")
	require.EqualValues(t, 3, stats[0].TotalMessages)
	require.EqualValues(t, 1, stats[0].UniqueSenders)
	require.EqualValues(t, 1, stats[1].EditedCount)

	summary, err := s.RecentChanges(7)
	require.NoError(t, err)
	require.Equal(t, 7, summary.PeriodDays)
	byAction := map[string]int64{}
	for _, c := range summary.ChangesByType {
		byAction[c.Action] = c.Count
	}
	require.EqualValues(t, 4, byAction[ActionCreated])
	require.EqualValues(t, 1, byAction[ActionEdited])
	require.NotEmpty(t, summary.MostActiveChats)
}

func TestChangesAfter(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat(Chat{ID: 100, Name: "team", Kind: "group"}))
	session, err := s.CreateScanSession()
	require.NoError(t, err)

	last, err := s.LatestChangeID()
	require.NoError(t, err)
	require.Zero(t, last, "empty change log")

	for i := int64(1); i <= 2; i++ {
		_, _, err := s.SaveMessageWithHistory(testMessage(i, 100, "hello"), session)
		require.NoError(t, err)
	}
	cursor, err := s.LatestChangeID()
	require.NoError(t, err)
	require.NotZero(t, cursor)

	// Nothing after the cursor yet, and creation rows are never changes.
	events, err := s.ChangesAfter(0, 0)
	require.NoError(t, err)
	require.Empty(t, events)

	_, _, err = s.SaveMessageWithHistory(testMessage(1, 100, "hello, edited"), session)
	require.NoError(t, err)
	_, err = s.MarkDeletedMessages(100, []int64{1}, session)
	require.NoError(t, err)

	events, err = s.ChangesAfter(cursor, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionEdited, events[0].Action, "oldest first")
	require.Equal(t, "team", events[0].ChatName)
	require.EqualValues(t, 1, events[0].MessageID)
	require.Equal(t, "hello", events[0].OldText)
	require.Equal(t, "hello, edited", events[0].NewText)
	require.Equal(t, ActionDeleted, events[1].Action)
	require.EqualValues(t, 2, events[1].MessageID)

	// Advancing the cursor past the edit leaves only the deletion.
	events, err = s.ChangesAfter(events[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, ActionDeleted, events[0].Action)
}

func TestSearchMessages(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat(Chat{ID: 100, Name: "team", Kind: "group"}))
	session, err := s.CreateScanSession()
	require.NoError(t, err)

	_, _, err = s.SaveMessageWithHistory(testMessage(1, 100, "deploy at noon"), session)
	require.NoError(t, err)
	_, _, err = s.SaveMessageWithHistory(testMessage(2, 100, "lunch plans"), session)
	require.NoError(t, err)
	_, _, err = s.SaveMessageWithHistory(testMessage(3, 100, "deploy postponed"), session)
	require.NoError(t, err)

	results, err := s.SearchMessages("deploy", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "deploy postponed", results[0].Text, "newest first")

	chatID := int64(999)
	results, err = s.SearchMessages("deploy", &chatID, 10)
	require.NoError(t, err)
	require.Empty(t, results)

	// Deleted messages never surface in search.
	_, err = s.MarkDeletedMessages(100, []int64{1}, session)
	require.NoError(t, err)
	results, err = s.SearchMessages("deploy", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "deploy at noon", results[0].Text)
}
