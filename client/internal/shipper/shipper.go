package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/wire"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultAddr              = "localhost:4567"
	DefaultTimeout           = 5 * time.Second
	DefaultHeartbeatInterval = 1 * time.Second
)

// ErrRejected is returned when the server answers with a 4xx or 5xx status.
var ErrRejected = errors.New("shipper: request rejected")

// Identity is the persisted source state a Shipper stamps requests with.
// *identity.Identity satisfies it.
type Identity interface {
	ID() string
	Tick() uint64
	Observe(remote uint64) uint64
	Save() error
}

// Options configures a Shipper or Reader.
type Options struct {
	// Addr is the server's host:port.
	Addr string

	// Timeout bounds one exchange after the connection is established.
	Timeout time.Duration

	// HeartbeatInterval is the pause between heartbeats in RunHeartbeat.
	HeartbeatInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return o
}

// doFunc performs one request/response exchange.
type doFunc func(ctx context.Context, addr string, req *wire.Request, timeout time.Duration) (*wire.Response, error)

// Shipper sends a content source's feed and heartbeats.
type Shipper struct {
	opts Options
	id   Identity
	do   doFunc // injectable for tests
}

// New returns a Shipper speaking for id.
func New(id Identity, opts Options) *Shipper {
	return &Shipper{opts: opts.withDefaults(), id: id, do: wire.Do}
}

// Put replaces the source's feed on the server. The response is returned
// for both 200 (replaced) and 201 (created).
func (s *Shipper) Put(ctx context.Context, feed *atom.Feed) (*wire.Response, error) {
	body, err := atom.Encode(feed)
	if err != nil {
		return nil, fmt.Errorf("shipper: put feed: %w", err)
	}
	return s.exchange(ctx, wire.ResourceFeed, body)
}

// Heartbeat tells the server the source is alive.
func (s *Shipper) Heartbeat(ctx context.Context) error {
	_, err := s.exchange(ctx, wire.ResourceHeartbeat, nil)
	return err
}

// RunHeartbeat sends heartbeats until ctx is cancelled.
func (s *Shipper) RunHeartbeat(ctx context.Context) {
	bo := newBackoff()
	wait := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.Heartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = bo.next()
			slog.Warn("shipper: heartbeat failed, will retry",
				"addr", s.opts.Addr,
				"source_id", s.id.ID(),
				"err", err,
				"retry_in", wait)
			continue
		}
		bo.reset()
		wait = s.opts.HeartbeatInterval
	}
}

// exchange sends one PUT stamped with the next source clock value, folds
// the response clock back in and saves the identity. The identity is saved
// even when the exchange fails, since the clock already moved.
func (s *Shipper) exchange(ctx context.Context, resource string, body []byte) (*wire.Response, error) {
	req := &wire.Request{
		Method:   wire.MethodPut,
		Resource: resource,
		UUID:     s.id.ID(),
		Lamport:  s.id.Tick(),
		Body:     body,
	}

	resp, err := s.do(ctx, s.opts.Addr, req, s.opts.Timeout)
	if err != nil {
		if serr := s.id.Save(); serr != nil {
			slog.Error("shipper: save identity", "err", serr)
		}
		return nil, fmt.Errorf("shipper: put %s: %w", resource, err)
	}

	local := s.id.Observe(resp.Lamport)
	if err := s.id.Save(); err != nil {
		return resp, fmt.Errorf("shipper: put %s: %w", resource, err)
	}
	slog.Debug("shipper: exchange complete",
		"resource", resource,
		"status", resp.Status,
		"remote_lamport", resp.Lamport,
		"lamport", local)

	if resp.Status >= 400 {
		return resp, fmt.Errorf("%w: put %s: %d %s", ErrRejected, resource, resp.Status, wire.Reason(resp.Status))
	}
	return resp, nil
}
