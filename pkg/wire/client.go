package wire

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultMaxResponse caps response bodies read by Do.
const DefaultMaxResponse = 64 << 20

// Do opens a connection to addr, sends req, and reads the single response.
// timeout bounds the whole exchange after the connection is established;
// zero means no deadline beyond ctx.
func Do(ctx context.Context, addr string, req *Request, timeout time.Duration) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		if t := time.Now().Add(timeout); !ok || t.Before(deadline) {
			deadline, ok = t, true
		}
	}
	if ok {
		conn.SetDeadline(deadline) //nolint:errcheck
	}

	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("wire: send %s /%s: %w", req.Method, req.Resource, err)
	}
	resp, err := ReadResponse(bufio.NewReader(conn), DefaultMaxResponse)
	if err != nil {
		return nil, fmt.Errorf("wire: read response: %w", err)
	}
	return resp, nil
}
