package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	testReconnect = 30 * time.Millisecond
	testHeartbeat = 40 * time.Millisecond
	testGiftQuiet = 60 * time.Millisecond
	testFansPoll  = 30 * time.Millisecond

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testOptions() Options {
	return Options{
		Ref:               "23058",
		Direct:            true,
		UserID:            42,
		ReconnectDelay:    testReconnect,
		HeartbeatInterval: testHeartbeat,
		GiftQuietPeriod:   testGiftQuiet,
		FansPollInterval:  testFansPoll,
		DialTimeout:       time.Second,
		FetchTimeout:      time.Second,
	}
}

type fakeConn struct {
	mu      sync.Mutex
	h       core.ConnHandlers
	sent    []string
	closed  bool
	started chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{started: make(chan struct{})}
}

func (c *fakeConn) Start(h core.ConnHandlers) {
	c.mu.Lock()
	c.h = h
	c.mu.Unlock()
	close(c.started)
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.sent = append(c.sent, string(f))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) handlers() core.ConnHandlers {
	<-c.started
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *fakeConn) push(t *testing.T, msgs ...domain.Message) {
	t.Helper()
	data, err := json.Marshal(msgs)
	require.NoError(t, err)
	c.handlers().OnFrame(core.Frame(data))
}

func (c *fakeConn) remoteClose(code int, reason string) {
	c.handlers().OnClose(code, reason)
}

func (c *fakeConn) fail(err error) {
	c.handlers().OnError(err)
}

func (c *fakeConn) count(frame string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.sent {
		if f == frame {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	times []time.Time
	fails int // number of upcoming dials that fail
}

func (d *fakeDialer) Dial(_ context.Context, url string) (core.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.times = append(d.times, time.Now())
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) dialTime(i int) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.times[i]
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// waitConn waits until the i-th successful connection has been started.
func (d *fakeDialer) waitConn(t *testing.T, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return d.connCount() > i }, waitFor, tick)
	c := d.conn(i)
	select {
	case <-c.started:
	case <-time.After(waitFor):
		t.Fatalf("connection %d never started", i)
	}
	return c
}

// fakeCodec carries messages as JSON arrays.
type fakeCodec struct{}

func (fakeCodec) Decode(f core.Frame) []domain.Message {
	var msgs []domain.Message
	if err := json.Unmarshal(f, &msgs); err != nil {
		return nil
	}
	return msgs
}

func (fakeCodec) EncodeJoin(room domain.RoomID, user domain.UserID) core.Frame {
	return core.Frame(joinFrame(room, user))
}

func (fakeCodec) EncodeHeartbeat() core.Frame { return core.Frame(heartbeatFrame) }

const heartbeatFrame = "hb"

func joinFrame(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("join:%d:%d", room, user)
}

type fakeResolver struct {
	mu   sync.Mutex
	room *domain.Room
	err  error
	tls  bool
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (*domain.Room, error) {
	if r.err != nil {
		return nil, r.err
	}
	room := *r.room
	room.Ref = ref
	return &room, nil
}

func (r *fakeResolver) Admins(context.Context, domain.RoomID) ([]domain.Admin, error) {
	return []domain.Admin{{User: domain.User{ID: 1, Name: "mod"}}}, nil
}

func (r *fakeResolver) UseTLS(use bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tls = use
}

func (r *fakeResolver) usingTLS() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tls
}

// fakeFans serves pages in order and repeats the last one.
type fakeFans struct {
	mu    sync.Mutex
	pages []*domain.FansPage
	errs  []error
	calls int
}

func (f *fakeFans) FetchPage(_ context.Context, _ domain.UserID, _ int) (*domain.FansPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.pages) {
		i = len(f.pages) - 1
	}
	return f.pages[i], nil
}

func (f *fakeFans) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, opts Options, deps Deps) (*Service, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	if deps.Dialer == nil {
		deps.Dialer = d
	}
	if deps.Codec == nil {
		deps.Codec = fakeCodec{}
	}
	s := NewService(opts, deps)
	t.Cleanup(s.Terminate)
	return s, d
}

func gift(sender domain.UserID, id, count int64) domain.Message {
	return domain.Message{
		Kind: domain.KindGift,
		User: &domain.User{ID: sender},
		Gift: &domain.Gift{ID: id, Name: "flower", Count: count},
	}
}

func danmaku(text string) domain.Message {
	return domain.Message{Kind: domain.KindDanmaku, User: &domain.User{ID: 1}, Content: text}
}

func connected() domain.Message {
	return domain.Message{Kind: domain.KindConnected}
}

// next returns the next event or fails the test.
func next(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// none asserts that nothing arrives on ch for d.
func none(t *testing.T, ch <-chan core.Event, d time.Duration) {
	t.Helper()
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %#v", e)
		}
	case <-time.After(d):
	}
}
