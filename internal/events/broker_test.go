package events

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_Publish(t *testing.T) {
	b := NewBroker(nil)
	a, c := b.Subscribe(), b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(CIProgress, Progress{RunID: "r1", Current: 1, Total: 5, CurrentTest: "lint"})

	for _, s := range []*Subscription{a, c} {
		msg := <-s.C
		assert.Equal(t, CIProgress, msg.Type)
		assert.JSONEq(t,
			`{"type":"ci-progress","payload":{"runId":"r1","current":1,"total":5,"currentTest":"lint"}}`,
			string(msg.Data))
	}
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker(nil)
	b.buffer = 2
	s := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(CIOutput, Output{RunID: "r1", Data: "x"})
	}
	assert.Len(t, s.C, 2)
	assert.EqualValues(t, 3, s.Dropped())
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(nil)
	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Unsubscribe(s)

	_, ok := <-s.C
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())

	// Publishing with no subscribers is fine.
	b.Publish(CICancelled, Cancelled{RunID: "r1"})
}

func waitForSubscribers(t *testing.T, b *Broker, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestServeSSE(t *testing.T) {
	b := NewBroker(nil)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitForSubscribers(t, b, 1)
	b.Publish(CIError, Error{RunID: "r1", Error: "boom"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "data: {\"type\"") {
			break
		}
	}
	require.NoError(t, sc.Err())
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "event: connected", lines[0])
	assert.Equal(t, "event: ci-error", lines[2])

	var env struct {
		Type    string `json:"type"`
		Payload Error  `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "data: ")), &env))
	assert.Equal(t, "boom", env.Payload.Error)
}

func TestWebSocketHandler(t *testing.T) {
	b := NewBroker(nil)
	srv := httptest.NewServer(b.WebSocketHandler(nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscribers(t, b, 1)
	b.Publish(WorkflowProgress, WorkflowUpdate{RunID: "r2", Type: PhaseStepStarted, JobID: "build", StepID: "compile"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var env struct {
		Type    string         `json:"type"`
		Payload WorkflowUpdate `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, WorkflowProgress, env.Type)
	assert.Equal(t, "compile", env.Payload.StepID)

	conn.Close()
	waitForSubscribers(t, b, 0)
}

func TestWebSocketHandler_Origin(t *testing.T) {
	b := NewBroker(nil)
	srv := httptest.NewServer(b.WebSocketHandler([]string{"http://dashboard.local"}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://dashboard.local"}})
	require.NoError(t, err)
	conn.Close()
}
