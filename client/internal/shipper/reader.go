package shipper

import (
	"context"
	"fmt"

	"github.com/syndicate/syndicate/pkg/lamport"
	"github.com/syndicate/syndicate/pkg/wire"
)

// Reader fetches the merged feed. Its clock lives only as long as the Reader.
type Reader struct {
	opts  Options
	clock *lamport.Clock
	do    doFunc
}

// NewReader returns a Reader with a fresh clock.
func NewReader(opts Options) *Reader {
	return &Reader{opts: opts.withDefaults(), clock: lamport.New(0), do: wire.Do}
}

// Get requests the merged feed and returns the raw response.
func (r *Reader) Get(ctx context.Context) (*wire.Response, error) {
	req := &wire.Request{
		Method:   wire.MethodGet,
		Resource: wire.ResourceFeed,
		Lamport:  r.clock.Tick(),
	}
	resp, err := r.do(ctx, r.opts.Addr, req, r.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("shipper: get: %w", err)
	}
	r.clock.Observe(resp.Lamport)

	if resp.Status != 200 {
		return resp, fmt.Errorf("%w: get: %d %s", ErrRejected, resp.Status, wire.Reason(resp.Status))
	}
	return resp, nil
}

// Lamport returns the reader's current clock value.
func (r *Reader) Lamport() uint64 { return r.clock.Peek() }
