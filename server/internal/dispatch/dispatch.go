package dispatch

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/wire"
	"github.com/syndicate/syndicate/server/internal/metrics"
)

// Store is the subset of *store.Store a Dispatcher needs.
type Store interface {
	UpsertFeed(id string, remote uint64, feed *atom.Feed) (isNew bool, err error)
	TouchHeartbeat(id string, remote uint64) error
	ReadMerged(remote uint64) (*atom.Feed, error)
	Stamp() (uint64, error)
}

// Options configures a Dispatcher.
type Options struct {
	// ReadTimeout bounds how long a connection may take to deliver its
	// request. It also bounds writing the response.
	ReadTimeout time.Duration

	// MaxBody caps the request body in bytes. Zero means unlimited.
	MaxBody int64

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Fault is called when the store fails to persist. The connection is
	// closed without a response either way.
	Fault func(error)

	// Registered is called after a source's first feed is stored.
	Registered func(sourceID string)
}

// Dispatcher handles protocol connections against a Store.
type Dispatcher struct {
	store Store
	opts  Options
	now   func() time.Time
}

// New creates a Dispatcher.
func New(st Store, opts Options) *Dispatcher {
	return &Dispatcher{store: st, opts: opts, now: time.Now}
}

// result is the outcome of applying a request, before it is stamped.
type result struct {
	status int
	body   []byte
}

// Serve handles exactly one request on conn and closes it.
func (d *Dispatcher) Serve(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if d.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(d.now().Add(d.opts.ReadTimeout))
	}

	req, err := wire.ReadRequest(bufio.NewReader(conn), d.opts.MaxBody)
	start := d.now()

	var res result
	method, resource := "", ""
	switch {
	case err == nil:
		method, resource = req.Method, req.Resource
		res, err = d.apply(req)
		if err != nil {
			d.fault(err, "source_id", req.UUID, "method", method, "resource", resource)
			return
		}
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, wire.ErrBodyTooLarge):
		slog.Debug("dispatch: rejecting request", "remote", remote, "err", err)
		res = result{status: 400}
	case isTimeout(err):
		slog.Debug("dispatch: read timeout", "remote", remote)
		d.opts.Metrics.RecordTimeout()
		return
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		slog.Debug("dispatch: connection closed before request", "remote", remote)
		return
	default:
		slog.Warn("dispatch: read request", "remote", remote, "err", err)
		return
	}

	ts, err := d.store.Stamp()
	if err != nil {
		d.fault(err, "method", method, "resource", resource)
		return
	}

	resp := &wire.Response{Status: res.status, Lamport: ts, Body: res.body}
	if d.opts.ReadTimeout > 0 {
		_ = conn.SetWriteDeadline(d.now().Add(d.opts.ReadTimeout))
	}
	if err := resp.Write(conn); err != nil {
		slog.Warn("dispatch: write response", "remote", remote, "err", err)
		return
	}

	d.opts.Metrics.RecordRequest(label(method), label(resource), res.status, d.now().Sub(start))
	slog.Debug("dispatch: request served",
		"remote", remote,
		"method", method,
		"resource", resource,
		"source_id", sourceID(req),
		"status", res.status,
		"lamport", ts,
	)
}

// apply runs the dispatch table. A non-nil error is a persistence failure;
// every protocol-level problem is expressed as a status code.
func (d *Dispatcher) apply(req *wire.Request) (result, error) {
	switch {
	case req.Method == wire.MethodGet:
		return d.get(req)
	case req.Method == wire.MethodPut && req.Resource == wire.ResourceFeed:
		return d.putFeed(req)
	case req.Method == wire.MethodPut && req.Resource == wire.ResourceHeartbeat:
		return d.putHeartbeat(req)
	default:
		return result{status: 400}, nil
	}
}

func (d *Dispatcher) get(req *wire.Request) (result, error) {
	merged, err := d.store.ReadMerged(req.Lamport)
	if err != nil {
		return result{}, err
	}
	body, err := atom.Encode(merged)
	if err != nil {
		slog.Error("dispatch: encode merged feed", "err", err)
		return result{status: 500}, nil
	}
	return result{status: 200, body: body}, nil
}

func (d *Dispatcher) putFeed(req *wire.Request) (result, error) {
	if req.UUID == "" {
		return result{status: 400}, nil
	}
	feed, err := atom.Decode(req.Body)
	if err != nil {
		slog.Info("dispatch: rejecting feed body", "source_id", req.UUID, "err", err)
		return result{status: 500}, nil
	}

	isNew, err := d.store.UpsertFeed(req.UUID, req.Lamport, feed)
	if err != nil {
		return result{}, err
	}
	if !isNew {
		return result{status: 200}, nil
	}

	slog.Info("dispatch: source registered", "source_id", req.UUID, "entries", feed.Len())
	if d.opts.Registered != nil {
		d.opts.Registered(req.UUID)
	}
	return result{status: 201}, nil
}

func (d *Dispatcher) putHeartbeat(req *wire.Request) (result, error) {
	if req.UUID == "" {
		return result{status: 400}, nil
	}
	if err := d.store.TouchHeartbeat(req.UUID, req.Lamport); err != nil {
		return result{}, err
	}
	return result{status: 204}, nil
}

func (d *Dispatcher) fault(err error, args ...any) {
	slog.Error("dispatch: persistence failed, dropping connection", append(args, "err", err)...)
	if d.opts.Fault != nil {
		d.opts.Fault(err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sourceID(req *wire.Request) string {
	if req == nil {
		return ""
	}
	return req.UUID
}

// label keeps metric cardinality bounded for requests that failed to parse
// or named an unknown resource.
func label(s string) string {
	switch s {
	case wire.MethodGet, wire.MethodPut, wire.ResourceFeed, wire.ResourceHeartbeat:
		return s
	case "":
		return "none"
	default:
		return "other"
	}
}
