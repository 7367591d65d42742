package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/syndicate/syndicate/pkg/lamport"
)

// Header keys understood by the protocol.
const (
	HeaderUUID          = "UUID"
	HeaderLamport       = "Lamport"
	HeaderServer        = "Server"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderUserAgent     = "User-Agent"
)

// Methods and resources recognized by the server.
const (
	MethodGet         = "GET"
	MethodPut         = "PUT"
	ResourceFeed      = "feed"
	ResourceHeartbeat = "heartbeat"
)

var (
	// ErrMalformed reports a request or response that violates the protocol.
	ErrMalformed = errors.New("wire: malformed message")

	// ErrBodyTooLarge reports a body exceeding the reader's limit.
	ErrBodyTooLarge = errors.New("wire: body too large")
)

// Request is one parsed client request.
type Request struct {
	// Method is upper-cased, e.g. "GET".
	Method string

	// Resource is the request path lower-cased and without slashes, e.g. "feed".
	Resource string

	// UUID is the source identifier; empty when the header is absent.
	UUID string

	// Lamport is the sender's clock value carried by the request.
	Lamport uint64

	Header textproto.MIMEHeader
	Body   []byte
}

// ReadRequest parses one request from br. Bodies larger than maxBody bytes
// are rejected with ErrBodyTooLarge; maxBody <= 0 disables the limit.
//
// Protocol violations wrap ErrMalformed. I/O errors, including read
// deadline expiry, are returned as they come from the connection.
func ReadRequest(br *bufio.Reader, maxBody int64) (*Request, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	method, resource, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	hdr, err := readHeader(tp)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:   method,
		Resource: resource,
		UUID:     strings.TrimSpace(hdr.Get(HeaderUUID)),
		Header:   hdr,
	}

	raw := strings.TrimSpace(hdr.Get(HeaderLamport))
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformed, HeaderLamport)
	}
	if req.Lamport, err = parseLamport(raw); err != nil {
		return nil, err
	}

	if req.Body, err = readRequestBody(br, hdr, method, maxBody); err != nil {
		return nil, err
	}
	return req, nil
}

// parseLamport rejects values a receiving clock could not advance past.
func parseLamport(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == lamport.Max {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrMalformed, HeaderLamport, raw)
	}
	return v, nil
}

func parseRequestLine(line string) (method, resource string, err error) {
	parts := strings.Fields(line)
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	if !strings.HasPrefix(parts[1], "/") {
		return "", "", fmt.Errorf("%w: resource %q must start with '/'", ErrMalformed, parts[1])
	}
	if len(parts) == 3 && !strings.HasPrefix(parts[2], "HTTP/") {
		return "", "", fmt.Errorf("%w: protocol %q", ErrMalformed, parts[2])
	}
	return strings.ToUpper(parts[0]), strings.ToLower(strings.Trim(parts[1], "/")), nil
}

// readHeader reads header lines up to the blank separator line. A stream
// that ends right after the headers is accepted, since some senders close
// without the final blank line.
func readHeader(tp *textproto.Reader) (textproto.MIMEHeader, error) {
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && hdr != nil {
			return hdr, nil
		}
		var perr textproto.ProtocolError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return hdr, nil
}

func readRequestBody(br *bufio.Reader, hdr textproto.MIMEHeader, method string, maxBody int64) ([]byte, error) {
	if cl := strings.TrimSpace(hdr.Get(HeaderContentLength)); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, HeaderContentLength, cl)
		}
		return readSized(br, n, maxBody)
	}
	if method != MethodPut {
		return nil, nil
	}
	return readUntilBlank(br, maxBody)
}

func readSized(r io.Reader, n, maxBody int64) ([]byte, error) {
	if maxBody > 0 && n > maxBody {
		return nil, ErrBodyTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: body shorter than %s", ErrMalformed, HeaderContentLength)
		}
		return nil, err
	}
	return body, nil
}

// readUntilBlank collects lines until an empty line or end of stream.
func readUntilBlank(br *bufio.Reader, maxBody int64) ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" && (err == nil || len(line) > 0) {
			return buf.Bytes(), nil
		}
		if trimmed != "" {
			buf.WriteString(trimmed)
			buf.WriteByte('\n')
			if maxBody > 0 && int64(buf.Len()) > maxBody {
				return nil, ErrBodyTooLarge
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf.Bytes(), nil
			}
			return nil, err
		}
	}
}

// Write serializes r, filling in Content-Length from the body.
func (r *Request) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s /%s HTTP/1.1\r\n", r.Method, r.Resource)
	fmt.Fprintf(bw, "%s: syndicate-client/1.0\r\n", HeaderUserAgent)
	if r.UUID != "" {
		fmt.Fprintf(bw, "%s: %s\r\n", HeaderUUID, r.UUID)
	}
	fmt.Fprintf(bw, "%s: %d\r\n", HeaderLamport, r.Lamport)
	if len(r.Body) > 0 {
		fmt.Fprintf(bw, "%s: application/atom+xml\r\n", HeaderContentType)
	}
	fmt.Fprintf(bw, "%s: %d\r\n\r\n", HeaderContentLength, len(r.Body))
	bw.Write(r.Body) //nolint:errcheck
	return bw.Flush()
}
