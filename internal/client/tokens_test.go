package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeegg/timeegg-server/internal/model"
)

func TestFileTokenStoreKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	s, err := NewFileTokenStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.Access())

	require.NoError(t, s.Set("acc", "ref"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, map[string]string{"timeEgg_accessToken": "acc", "timeEgg_refreshToken": "ref"}, m)

	require.NoError(t, s.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, s.Refresh())
}

func TestMessageLog(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMessageLog()
	l.Load([]model.ChatMessage{{ID: "m1", SenderID: 9, Content: "hi"}})
	l.Load([]model.ChatMessage{{ID: "m1", SenderID: 9, Content: "hi"}})

	l.Pending("c1", 7, 1, "hello", at)
	l.Pending("c2", 7, 1, "again", at)
	require.Len(t, l.Entries(), 3)
	assert.Equal(t, DeliverySending, l.Entries()[1].State)

	assert.True(t, l.Receive(model.ChatMessage{ID: "m2", SenderID: 1, Content: "hello"}, "c1"))
	assert.False(t, l.Receive(model.ChatMessage{ID: "m2", SenderID: 1, Content: "hello"}, "c1"))
	assert.True(t, l.Fail("c2"))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[1].ID)
	assert.Equal(t, DeliverySent, entries[1].State)
	assert.Equal(t, DeliveryFailed, entries[2].State)

	content, ok := l.Retry("c2")
	assert.True(t, ok)
	assert.Equal(t, "again", content)
	assert.Equal(t, DeliverySending, l.Entries()[2].State)

	assert.True(t, l.Receive(model.ChatMessage{ID: "m3", SenderID: 9, Content: "admin reply"}, ""))
	l.MarkRead(1)
	for _, e := range l.Entries() {
		assert.Equal(t, e.SenderID != 1, e.IsRead, e.Content)
	}
}
