package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// ServerName is sent in the Server header of every response.
const ServerName = "syndicate"

// Response is one server reply.
type Response struct {
	Status  int
	Lamport uint64
	Header  textproto.MIMEHeader
	Body    []byte
}

// Reason returns the reason phrase for a status code.
func Reason(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}

// Write serializes r with Server, Lamport and Content-Length headers.
func (r *Response) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", r.Status, Reason(r.Status))
	fmt.Fprintf(bw, "%s: %s\r\n", HeaderServer, ServerName)
	fmt.Fprintf(bw, "%s: %d\r\n", HeaderLamport, r.Lamport)
	if len(r.Body) > 0 {
		fmt.Fprintf(bw, "%s: application/atom+xml\r\n", HeaderContentType)
	}
	fmt.Fprintf(bw, "%s: %d\r\n\r\n", HeaderContentLength, len(r.Body))
	bw.Write(r.Body) //nolint:errcheck
	return bw.Flush()
}

// ReadResponse parses one response. Without Content-Length the body runs to
// end of stream, capped at maxBody bytes when maxBody > 0.
func ReadResponse(br *bufio.Reader, maxBody int64) (*Response, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(line)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}

	hdr, err := readHeader(tp)
	if err != nil {
		return nil, err
	}
	resp := &Response{Status: code, Header: hdr}

	if raw := strings.TrimSpace(hdr.Get(HeaderLamport)); raw != "" {
		if resp.Lamport, err = parseLamport(raw); err != nil {
			return nil, err
		}
	}

	if cl := strings.TrimSpace(hdr.Get(HeaderContentLength)); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, HeaderContentLength, cl)
		}
		if resp.Body, err = readSized(br, n, maxBody); err != nil {
			return nil, err
		}
		return resp, nil
	}

	var r io.Reader = br
	if maxBody > 0 {
		r = io.LimitReader(br, maxBody+1)
	}
	if resp.Body, err = io.ReadAll(r); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if maxBody > 0 && int64(len(resp.Body)) > maxBody {
		return nil, ErrBodyTooLarge
	}
	return resp, nil
}
