package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestActivityLogWritesOneLinePerEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handlers := ActivityLog(zap.New(core))
	require.Len(t, handlers, len(Queues))

	lat, lng := 37.56, 126.97
	body, err := json.Marshal(CapsuleBuriedEvent{WaitingRoomID: 3, CapsuleID: 9, ParticipantIDs: []uint64{1, 2}, Latitude: &lat, Longitude: &lng, IsAutoSubmitted: true})
	require.NoError(t, err)
	require.NoError(t, handlers[CapsuleBuried](context.Background(), body))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "capsule buried", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, uint64(9), fields["capsule_id"])
	assert.Equal(t, int64(2), fields["participants"])
	assert.Equal(t, true, fields["auto"])
}

func TestActivityLogRejectsGarbage(t *testing.T) {
	handlers := ActivityLog(zap.NewNop())
	for _, name := range Queues {
		assert.Error(t, handlers[name](context.Background(), []byte("{")), name)
	}
}
