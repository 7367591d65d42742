package shipper

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/lamport"
	"github.com/syndicate/syndicate/pkg/wire"
)

// fakeIdentity is an in-memory Identity that counts saves.
type fakeIdentity struct {
	clock *lamport.Clock
	saves atomic.Int32
	err   error
}

func newFakeIdentity(initial uint64) *fakeIdentity {
	return &fakeIdentity{clock: lamport.New(initial)}
}

func (f *fakeIdentity) ID() string { return "source-a" }
func (f *fakeIdentity) Tick() uint64 { return f.clock.Tick() }
func (f *fakeIdentity) Observe(remote uint64) uint64 { return f.clock.Observe(remote) }
func (f *fakeIdentity) Save() error {
	f.saves.Add(1)
	return f.err
}

// recorder is a doFunc that answers every request with a fixed response.
type recorder struct {
	mu     sync.Mutex
	reqs   []*wire.Request
	status int
	remote uint64
	err    error
}

func (r *recorder) do(_ context.Context, _ string, req *wire.Request, _ time.Duration) (*wire.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &wire.Response{Status: r.status, Lamport: r.remote}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func sampleFeed() *atom.Feed {
	return &atom.Feed{
		Title: "News",
		ID:    "urn:news",
		Entries: []atom.Entry{
			{Title: "First", ID: "urn:news:1", Summary: "hello"},
		},
	}
}

// --- Put ---

func TestShipper_PutStampsAndObserves(t *testing.T) {
	id := newFakeIdentity(4)
	rec := &recorder{status: 201, remote: 20}
	s := New(id, Options{})
	s.do = rec.do

	resp, err := s.Put(context.Background(), sampleFeed())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.Status != 201 {
		t.Errorf("Status: got %d, want 201", resp.Status)
	}

	req := rec.reqs[0]
	if req.Method != wire.MethodPut || req.Resource != wire.ResourceFeed {
		t.Errorf("request: got %s /%s", req.Method, req.Resource)
	}
	if req.UUID != "source-a" {
		t.Errorf("UUID: got %q", req.UUID)
	}
	if req.Lamport != 5 {
		t.Errorf("request Lamport: got %d, want 5", req.Lamport)
	}
	if len(req.Body) == 0 {
		t.Error("request body is empty")
	}
	if got := id.clock.Peek(); got != 21 {
		t.Errorf("clock after observe: got %d, want 21", got)
	}
	if id.saves.Load() != 1 {
		t.Errorf("saves: got %d, want 1", id.saves.Load())
	}
}

func TestShipper_PutRejected(t *testing.T) {
	id := newFakeIdentity(0)
	rec := &recorder{status: 500, remote: 3}
	s := New(id, Options{})
	s.do = rec.do

	resp, err := s.Put(context.Background(), sampleFeed())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err: got %v, want ErrRejected", err)
	}
	if resp == nil || resp.Status != 500 {
		t.Fatalf("response: got %+v", resp)
	}
	if got := id.clock.Peek(); got != 4 {
		t.Errorf("clock: got %d, want 4", got)
	}
}

func TestShipper_SavesEvenWhenDialFails(t *testing.T) {
	id := newFakeIdentity(9)
	rec := &recorder{err: errors.New("connection refused")}
	s := New(id, Options{})
	s.do = rec.do

	if err := s.Heartbeat(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if id.clock.Peek() != 10 {
		t.Errorf("clock: got %d, want 10", id.clock.Peek())
	}
	if id.saves.Load() != 1 {
		t.Errorf("saves: got %d, want 1", id.saves.Load())
	}
}

// --- Heartbeat ---

func TestShipper_HeartbeatRequest(t *testing.T) {
	id := newFakeIdentity(0)
	rec := &recorder{status: 204, remote: 7}
	s := New(id, Options{})
	s.do = rec.do

	if err := s.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	req := rec.reqs[0]
	if req.Resource != wire.ResourceHeartbeat || len(req.Body) != 0 {
		t.Errorf("request: got /%s with %d body bytes", req.Resource, len(req.Body))
	}
	if id.clock.Peek() != 8 {
		t.Errorf("clock: got %d, want 8", id.clock.Peek())
	}
}

func TestShipper_RunHeartbeatRepeats(t *testing.T) {
	rec := &recorder{status: 204}
	s := New(newFakeIdentity(0), Options{HeartbeatInterval: 5 * time.Millisecond})
	s.do = rec.do

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunHeartbeat(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for rec.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d heartbeats sent", rec.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunHeartbeat did not return after cancel")
	}
}

// --- Reader ---

func TestReader_GetUsesEphemeralClock(t *testing.T) {
	rec := &recorder{status: 200, remote: 30}
	r := NewReader(Options{})
	r.do = rec.do

	if _, err := r.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	req := rec.reqs[0]
	if req.Method != wire.MethodGet || req.Lamport != 1 || req.UUID != "" {
		t.Errorf("request: %s lamport=%d uuid=%q", req.Method, req.Lamport, req.UUID)
	}
	if r.Lamport() != 31 {
		t.Errorf("Lamport: got %d, want 31", r.Lamport())
	}
}

// TestShipper_OverTCP runs one exchange against a loopback listener that
// speaks the wire protocol.
func TestShipper_OverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan *wire.Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := wire.ReadRequest(bufio.NewReader(conn), 1<<20)
		if err != nil {
			close(got)
			return
		}
		got <- req
		(&wire.Response{Status: 201, Lamport: req.Lamport + 1}).Write(conn) //nolint:errcheck
	}()

	id := newFakeIdentity(0)
	s := New(id, Options{Addr: ln.Addr().String(), Timeout: 2 * time.Second})
	resp, err := s.Put(context.Background(), sampleFeed())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.Status != 201 || resp.Lamport != 2 {
		t.Errorf("response: status=%d lamport=%d", resp.Status, resp.Lamport)
	}

	req := <-got
	if req == nil {
		t.Fatal("server failed to parse request")
	}
	feed, err := atom.Decode(req.Body)
	if err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if feed.Title != "News" || len(feed.Entries) != 1 {
		t.Errorf("sent feed: %+v", feed)
	}
	if id.clock.Peek() != 3 {
		t.Errorf("clock: got %d, want 3", id.clock.Peek())
	}
}

// --- backoff ---

func TestBackoff_Resets(t *testing.T) {
	b := newBackoff()
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		b.next()
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 50; i++ {
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds max plus jitter", i, d)
		}
	}
}
