package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/danmaku/internal/app/room"
	"github.com/dkeye/danmaku/internal/config"
	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	bus        *room.Bus
	subscribed chan []core.Topic

	mu         sync.Mutex
	adminsErr  error
	reconnects int
	tls        bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{bus: room.NewBus(), subscribed: make(chan []core.Topic, 4)}
}

func (f *fakeSession) Info() domain.Room {
	return domain.Room{ID: 23058, Ref: "3", Title: "stream", Anchor: domain.User{ID: 7, Name: "host"}}
}

func (f *fakeSession) UserID() domain.UserID { return 42 }

func (f *fakeSession) State() room.State { return room.Joined }

func (f *fakeSession) Admins(context.Context) ([]domain.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adminsErr != nil {
		return nil, f.adminsErr
	}
	return []domain.Admin{{User: domain.User{ID: 1, Name: "mod"}, Since: 100}}, nil
}

func (f *fakeSession) failAdmins(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminsErr = err
}

func (f *fakeSession) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeSession) UseTLS(use bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tls = use
}

func (f *fakeSession) Subscribe(buffer int, topics ...core.Topic) (<-chan core.Event, func()) {
	ch, cancel := f.bus.Subscribe(buffer, topics...)
	f.subscribed <- topics
	return ch, cancel
}

func (f *fakeSession) waitSubscribed(t *testing.T) []core.Topic {
	t.Helper()
	select {
	case topics := <-f.subscribed:
		return topics
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription")
		return nil
	}
}

func newTestServer(t *testing.T, sess Session) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Config{Mode: "test", Secret: "secret", PingPeriod: time.Second, ReadLimit: 1024}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, sess))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func TestRoomInfo(t *testing.T) {
	srv := newTestServer(t, newFakeSession())

	resp, err := http.Get(srv.URL + "/api/room")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		ID     int64  `json:"id"`
		Ref    string `json:"ref"`
		Title  string `json:"title"`
		UserID int64  `json:"user_id"`
		State  string `json:"state"`
		Anchor struct {
			Name string `json:"name"`
		} `json:"anchor"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(23058), body.ID)
	assert.Equal(t, "3", body.Ref)
	assert.Equal(t, int64(42), body.UserID)
	assert.Equal(t, "joined", body.State)
	assert.Equal(t, "host", body.Anchor.Name)

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == "ct" {
			token = c.Value
		}
	}
	assert.NotEmpty(t, token)
}

func TestAdmins(t *testing.T) {
	sess := newFakeSession()
	srv := newTestServer(t, sess)

	resp, err := http.Get(srv.URL + "/api/room/admins")
	require.NoError(t, err)
	var body struct {
		Admins []domain.Admin `json:"admins"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Admins, 1)
	assert.Equal(t, "mod", body.Admins[0].Name)

	sess.failAdmins(room.ErrNoResolver)
	resp, err = http.Get(srv.URL + "/api/room/admins")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	sess.failAdmins(errors.New("upstream down"))
	resp, err = http.Get(srv.URL + "/api/room/admins")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestControlEndpoints(t *testing.T) {
	sess := newFakeSession()
	srv := newTestServer(t, sess)

	resp, err := http.Post(srv.URL+"/api/room/reconnect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/room/tls", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/room/tls", "application/json", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Equal(t, 1, sess.reconnects)
	assert.True(t, sess.tls)
}

func TestTopicsOf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?topic=gift,%20danmaku&topic=fans&topic=", nil)

	assert.Equal(t, []core.Topic{"gift", "danmaku", "fans"}, topicsOf(c))
}

func TestWebSocketEventStream(t *testing.T) {
	sess := newFakeSession()
	srv := newTestServer(t, sess)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events?topic=danmaku"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, []core.Topic{"danmaku"}, sess.waitSubscribed(t))

	sess.bus.Publish(core.ConnectEvent{})
	sess.bus.Publish(core.MessageEvent{Message: domain.Message{
		Kind:    domain.KindDanmaku,
		User:    &domain.User{ID: 5, Name: "viewer"},
		Content: "hello",
	}})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type string `json:"type"`
		Data struct {
			Kind    string `json:"kind"`
			Content string `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, "danmaku", env.Type)
	assert.Equal(t, "hello", env.Data.Content)

	sess.bus.Close()
	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

func TestSSEEventStream(t *testing.T) {
	sess := newFakeSession()
	srv := newTestServer(t, sess)

	type result struct {
		resp *http.Response
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/api/events?topic=close")
		got <- result{resp, err}
	}()
	sess.waitSubscribed(t)
	sess.bus.Publish(core.CloseEvent{Code: 1006, Reason: "gone"})

	var res result
	select {
	case res = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no sse response")
	}
	require.NoError(t, res.err)
	defer res.resp.Body.Close()
	assert.Contains(t, res.resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(res.resp.Body)
	var lines []string
	for len(lines) < 2 && sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event:close", lines[0])
	assert.JSONEq(t, `{"type":"close","data":{"code":1006,"reason":"gone"}}`, strings.TrimPrefix(lines[1], "data:"))

	sess.bus.Close()
}
