package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeegg/timeegg-server/internal/client"
	"github.com/timeegg/timeegg-server/internal/geo"
)

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: "+baseURL+"\ndev_token: dev\n"), 0o600))
	t.Setenv("TIMEEGG_API_BASE_URL", "")
	return path
}

func TestRunWriteWatchSavesOnceAndCountsLocalSave(t *testing.T) {
	var (
		mu    sync.Mutex
		saves []client.ContentRequest
	)
	created := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/me":
			_, _ = io.WriteString(w, `{"id":7}`)
		case r.URL.Path == "/api/capsules/step-rooms/3/my-content" && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"CONTENT_NOT_FOUND","message":"no content"}`)
		case r.URL.Path == "/api/capsules/step-rooms/3/my-content" && r.Method == http.MethodPost:
			var req client.ContentRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			mu.Lock()
			saves = append(saves, req)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"content_id":1,"waiting_room_id":3,"participant_id":11,"text":"saved"}`)
		case r.URL.Path == "/api/capsules/step-rooms/3":
			// The room still reports the host without content.
			_, _ = io.WriteString(w, `{"waiting_room_id":3,"host_user_id":7,"status":"WAITING","created_at":"`+created+`",`+
				`"participants":[{"participant_id":11,"user_id":7,"has_content":false}]}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	in := strings.NewReader("hello\nworld\n")
	require.NoError(t, run(context.Background(), []string{"--config", writeConfig(t, srv.URL), "write", "--watch", "3"}, in, &out))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, saves, 1, "lines typed without a pause collapse into one save")
	assert.Equal(t, "hello\nworld", saves[0].Text)

	var state struct {
		CanSubmit bool   `json:"can_submit"`
		Completed []bool `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &state))
	assert.True(t, state.CanSubmit)
	assert.Equal(t, []bool{true}, state.Completed)
}

func TestRunDiscoverFollowsMovement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/me":
			_, _ = io.WriteString(w, `{"id":7}`)
		case "/api/capsules":
			_, _ = io.WriteString(w, `{"capsules":[`+
				`{"id":1,"owner_id":9,"type":"EASTER_EGG","latitude":37.5,"longitude":127.0},`+
				`{"id":2,"owner_id":9,"type":"EASTER_EGG","latitude":37.6,"longitude":127.0},`+
				`{"id":3,"owner_id":7,"type":"EASTER_EGG","latitude":37.6,"longitude":127.0}]}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	in := strings.NewReader("37.5,127.0\n\n37.6 127.0\n")
	args := []string{"--config", writeConfig(t, srv.URL), "discover", "--lat", "37.5", "--lng", "127.0"}
	require.NoError(t, run(context.Background(), args, in, &out))

	var events []discoveryEvent
	dec := json.NewDecoder(&out)
	for dec.More() {
		var ev discoveryEvent
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2, "revisiting a discovered egg emits nothing")
	assert.Equal(t, "enter", events[0].Trigger)
	require.NotNil(t, events[0].Current)
	assert.Equal(t, uint64(1), events[0].Current.Capsule.ID)
	assert.Equal(t, "move", events[1].Trigger)
	require.NotNil(t, events[1].Current)
	assert.Equal(t, uint64(2), events[1].Current.Capsule.ID, "own eggs are never discovered")
	assert.Equal(t, 1, events[1].Queued)
}

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("37.5, 127")
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lat: 37.5, Lng: 127}, p)

	for _, bad := range []string{"37.5", "a,b", "91,0", "1,2,3"} {
		_, err := parsePoint(bad)
		assert.Error(t, err, bad)
	}
}
