package dispatch_test

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/wire"
	"github.com/syndicate/syndicate/server/internal/dispatch"
	"github.com/syndicate/syndicate/server/internal/store"
)

const atomBody = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Source feed</title>
  <id>urn:source</id>
  <entry>
    <title>First</title>
    <id>urn:source:1</id>
    <summary>hello</summary>
  </entry>
</feed>`

// --- helpers ---

// roundTrip serves raw on one end of an in-memory connection and reads the
// response from the other. It returns an error when the server closed the
// connection without answering.
func roundTrip(t *testing.T, d *dispatch.Dispatcher, raw string) (*wire.Response, error) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		d.Serve(server)
		close(done)
	}()
	go func() {
		// The server may stop reading early; the write then fails once it closes.
		_, _ = io.WriteString(client, raw)
	}()

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := wire.ReadResponse(bufio.NewReader(client), 0)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	return resp, err
}

func request(method, resource, uuid string, lamport uint64, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s /%s HTTP/1.1\r\n", method, resource)
	if uuid != "" {
		fmt.Fprintf(&b, "UUID: %s\r\n", uuid)
	}
	fmt.Fprintf(&b, "Lamport: %d\r\n", lamport)
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n%s", len(body), body)
	return b.String()
}

// fakeStore counts calls and can fail selected operations.
type fakeStore struct {
	mu         sync.Mutex
	clock      uint64
	stamps     int
	upserts    int
	heartbeats int
	reads      int
	known      map[string]bool
	failUpsert bool
	failStamp  bool
}

func newFakeStore() *fakeStore { return &fakeStore{known: map[string]bool{}} }

func (f *fakeStore) UpsertFeed(id string, remote uint64, _ *atom.Feed) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return false, errors.New("disk full")
	}
	f.upserts++
	f.observe(remote)
	isNew := !f.known[id]
	f.known[id] = true
	return isNew, nil
}

func (f *fakeStore) TouchHeartbeat(_ string, remote uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	f.observe(remote)
	return nil
}

func (f *fakeStore) ReadMerged(remote uint64) (*atom.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	f.observe(remote)
	return &atom.Feed{Title: "merged", Entries: []atom.Entry{{ID: "e1"}}}, nil
}

func (f *fakeStore) Stamp() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStamp {
		return 0, errors.New("disk full")
	}
	f.stamps++
	f.clock++
	return f.clock, nil
}

func (f *fakeStore) observe(remote uint64) {
	if remote > f.clock {
		f.clock = remote
	}
	f.clock++
}

func (f *fakeStore) counts() (stamps, mutations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stamps, f.upserts + f.heartbeats + f.reads
}

// --- dispatch table ---

func TestServe_PutFeed_NewThenReplace(t *testing.T) {
	st := store.New(nil, store.Options{})
	var registered []string
	d := dispatch.New(st, dispatch.Options{
		ReadTimeout: time.Second,
		Registered:  func(id string) { registered = append(registered, id) },
	})

	resp, err := roundTrip(t, d, request("PUT", "feed", "src-1", 3, atomBody))
	if err != nil {
		t.Fatalf("first PUT: %v", err)
	}
	if resp.Status != 201 {
		t.Errorf("first PUT: status %d, want 201", resp.Status)
	}
	if resp.Lamport <= 3 {
		t.Errorf("first PUT: response Lamport %d not after request Lamport 3", resp.Lamport)
	}
	if got := resp.Header.Get("Server"); got != wire.ServerName {
		t.Errorf("Server header: got %q, want %q", got, wire.ServerName)
	}

	resp, err = roundTrip(t, d, request("PUT", "feed", "src-1", 1, atomBody))
	if err != nil {
		t.Fatalf("second PUT: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("second PUT: status %d, want 200", resp.Status)
	}

	if len(registered) != 1 || registered[0] != "src-1" {
		t.Errorf("Registered calls: got %v, want [src-1]", registered)
	}
}

func TestServe_Heartbeat(t *testing.T) {
	st := store.New(nil, store.Options{})
	d := dispatch.New(st, dispatch.Options{ReadTimeout: time.Second})

	resp, err := roundTrip(t, d, request("PUT", "heartbeat", "src-1", 0, ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 204 {
		t.Errorf("status: got %d, want 204", resp.Status)
	}
	if len(resp.Body) != 0 {
		t.Errorf("body: got %q, want empty", resp.Body)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestServe_GetReturnsMergedAtom(t *testing.T) {
	st := store.New(nil, store.Options{Title: "Aggregated"})
	if _, err := st.UpsertFeed("src-1", 0, &atom.Feed{Entries: []atom.Entry{{ID: "urn:a"}, {ID: "urn:b"}}}); err != nil {
		t.Fatal(err)
	}
	d := dispatch.New(st, dispatch.Options{ReadTimeout: time.Second})

	resp, err := roundTrip(t, d, request("GET", "feed", "", 50, ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Fatalf("status: got %d, want 200", resp.Status)
	}
	if resp.Lamport <= 50 {
		t.Errorf("response Lamport %d not after request Lamport 50", resp.Lamport)
	}

	feed, err := atom.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if feed.Len() != 2 || feed.Entries[0].ID != "urn:a" || feed.Entries[1].ID != "urn:b" {
		t.Errorf("entries: got %+v", feed.Entries)
	}
}

func TestServe_GetAnyResource(t *testing.T) {
	fs := newFakeStore()
	d := dispatch.New(fs, dispatch.Options{ReadTimeout: time.Second})

	resp, err := roundTrip(t, d, request("GET", "whatever", "", 0, ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Errorf("status: got %d, want 200", resp.Status)
	}
}

func TestServe_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown method", request("POST", "feed", "src", 1, "")},
		{"unknown PUT resource", request("PUT", "other", "src", 1, "")},
		{"PUT feed without UUID", request("PUT", "feed", "", 1, atomBody)},
		{"heartbeat without UUID", request("PUT", "heartbeat", "", 1, "")},
		{"missing Lamport", "GET /feed HTTP/1.1\r\n\r\n"},
		{"non-numeric Lamport", "GET /feed HTTP/1.1\r\nLamport: soon\r\n\r\n"},
		{"Lamport at clock maximum", request("GET", "feed", "", math.MaxUint64, "")},
		{"feed PUT with Lamport at clock maximum", request("PUT", "feed", "src", math.MaxUint64, atomBody)},
		{"garbage request line", "HELLO\r\nLamport: 1\r\n\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			d := dispatch.New(fs, dispatch.Options{ReadTimeout: time.Second})

			resp, err := roundTrip(t, d, tc.raw)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Status != 400 {
				t.Errorf("status: got %d, want 400", resp.Status)
			}
			stamps, mutations := fs.counts()
			if stamps != 1 {
				t.Errorf("stamps: got %d, want 1", stamps)
			}
			if mutations != 0 {
				t.Errorf("store operations besides Stamp: got %d, want 0", mutations)
			}
			if resp.Lamport != 1 {
				t.Errorf("response Lamport: got %d, want 1", resp.Lamport)
			}
		})
	}
}

func TestServe_OversizeBodyIs400(t *testing.T) {
	fs := newFakeStore()
	d := dispatch.New(fs, dispatch.Options{ReadTimeout: time.Second, MaxBody: 16})

	resp, err := roundTrip(t, d, request("PUT", "feed", "src", 1, atomBody))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 400 {
		t.Errorf("status: got %d, want 400", resp.Status)
	}
}

func TestServe_UnparseableFeedIs500(t *testing.T) {
	st := store.New(nil, store.Options{})
	d := dispatch.New(st, dispatch.Options{ReadTimeout: time.Second})
	before := st.Lamport()

	resp, err := roundTrip(t, d, request("PUT", "feed", "src", 7, "this is not a feed"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 500 {
		t.Errorf("status: got %d, want 500", resp.Status)
	}
	if st.Count() != 0 {
		t.Errorf("store was mutated: Count = %d", st.Count())
	}
	// Only the reply stamp moved the clock.
	if got := st.Lamport(); got != before+1 {
		t.Errorf("Lamport: got %d, want %d", got, before+1)
	}
}

func TestServe_BodyWithoutContentLength(t *testing.T) {
	st := store.New(nil, store.Options{})
	d := dispatch.New(st, dispatch.Options{ReadTimeout: time.Second})

	raw := "PUT /feed HTTP/1.1\r\nUUID: src\r\nLamport: 2\r\n\r\n" + strings.ReplaceAll(atomBody, "\n", "\r\n") + "\r\n\r\n"
	resp, err := roundTrip(t, d, raw)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 201 {
		t.Errorf("status: got %d, want 201", resp.Status)
	}
}

// --- failure paths ---

func TestServe_TimeoutSendsNothing(t *testing.T) {
	fs := newFakeStore()
	d := dispatch.New(fs, dispatch.Options{ReadTimeout: 50 * time.Millisecond})

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		d.Serve(server)
		close(done)
	}()

	// Half a request, then silence.
	go func() { _, _ = io.WriteString(client, "GET /feed HTTP/1.1\r\n") }()

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := wire.ReadResponse(bufio.NewReader(client), 0); err == nil {
		t.Fatal("expected no response after a read timeout")
	}
	<-done

	if stamps, mutations := fs.counts(); stamps != 0 || mutations != 0 {
		t.Errorf("store accessed after timeout: stamps=%d operations=%d", stamps, mutations)
	}
}

func TestServe_PersistFailureDropsConnection(t *testing.T) {
	fs := newFakeStore()
	fs.failUpsert = true
	var faults []error
	d := dispatch.New(fs, dispatch.Options{
		ReadTimeout: time.Second,
		Fault:       func(err error) { faults = append(faults, err) },
	})

	if _, err := roundTrip(t, d, request("PUT", "feed", "src", 1, atomBody)); err == nil {
		t.Fatal("expected the connection to close without a response")
	}
	if len(faults) != 1 {
		t.Fatalf("Fault calls: got %d, want 1", len(faults))
	}
	if stamps, _ := fs.counts(); stamps != 0 {
		t.Errorf("stamps after failed write: got %d, want 0", stamps)
	}
}

func TestServe_StampFailureDropsConnection(t *testing.T) {
	fs := newFakeStore()
	fs.failStamp = true
	faults := 0
	d := dispatch.New(fs, dispatch.Options{
		ReadTimeout: time.Second,
		Fault:       func(error) { faults++ },
	})

	if _, err := roundTrip(t, d, request("GET", "feed", "", 1, "")); err == nil {
		t.Fatal("expected the connection to close without a response")
	}
	if faults != 1 {
		t.Errorf("Fault calls: got %d, want 1", faults)
	}
}
