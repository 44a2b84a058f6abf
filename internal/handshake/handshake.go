// Package handshake promotes a freshly accepted byte stream into a framed
// connection: it reads the plaintext upgrade request, computes the accept
// token for Sec-WebSocket-Key and writes the 101 response.
package handshake

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// GUID is appended to the client key before hashing (RFC 6455 section 1.3).
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// KeyHeader is the only header the negotiation requires.
const KeyHeader = "Sec-WebSocket-Key"

var (
	ErrMissingKey     = errors.New("missing " + KeyHeader + " header")
	ErrHeaderTooLarge = errors.New("handshake header too large")
	ErrEmptyRequest   = errors.New("empty handshake request")
)

// Header is a single request header as seen on the wire.
type Header struct {
	Name  string
	Value string
}

// Info describes an accepted upgrade request.
type Info struct {
	Method     string
	Target     string
	Headers    []Header
	RemoteIP   string
	RemotePort string
	Key        string
	Accept     string
	// Buffered holds bytes read past the header block. They are the start of
	// the framed stream.
	Buffered []byte
}

// Get returns the first value associated with name (case-insensitive) or empty.
func (i *Info) Get(name string) string {
	for _, h := range i.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// AcceptToken computes Sec-WebSocket-Accept for a client key.
func AcceptToken(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Options bound the negotiation.
type Options struct {
	// MaxHeaderSize caps the request line plus headers. Zero means 32 KiB.
	MaxHeaderSize int
	// Timeout is the deadline for the whole exchange. Zero means none.
	Timeout time.Duration
}

func (o Options) maxHeader() int {
	if o.MaxHeaderSize <= 0 {
		return 32 * 1024
	}
	return o.MaxHeaderSize
}

// Negotiate runs the server side of the upgrade on c. On error nothing has
// been written and the caller must close c.
func Negotiate(c net.Conn, opts Options) (*Info, error) {
	if opts.Timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(opts.Timeout))
		defer c.SetDeadline(time.Time{})
	}
	br := bufio.NewReader(c)
	info, err := ReadRequest(br, opts.maxHeader())
	if err != nil {
		return nil, err
	}
	if addr := c.RemoteAddr(); addr != nil {
		host, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		info.RemoteIP, info.RemotePort = host, port
	}
	if info.Key == "" {
		return nil, ErrMissingKey
	}
	if err := WriteResponse(c, info.Accept); err != nil {
		return nil, fmt.Errorf("write upgrade response: %w", err)
	}
	return info, nil
}

// ReadRequest parses the request line and "Name: value" header lines up to
// the blank line. A malformed header line ends header collection; the rest
// of the header block is still consumed so the framed stream starts aligned.
func ReadRequest(br *bufio.Reader, max int) (*Info, error) {
	read := 0
	next := func() (string, error) {
		line, err := br.ReadString('\n')
		read += len(line)
		if read > max {
			return "", fmt.Errorf("%w (%d>%d)", ErrHeaderTooLarge, read, max)
		}
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, " \t\r\n"), nil
	}

	reqLine, err := next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyRequest
		}
		return nil, fmt.Errorf("read request line: %w", err)
	}
	info := &Info{}
	parts := strings.Split(reqLine, " ")
	info.Method = parts[0]
	if len(parts) > 1 {
		info.Target = parts[1]
	}

	collecting := true
	for {
		line, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		if line == "" {
			break
		}
		if !collecting {
			continue
		}
		h, ok := parseHeader(line)
		if !ok {
			collecting = false
			continue
		}
		info.Headers = append(info.Headers, h)
	}

	info.Key = info.Get(KeyHeader)
	if info.Key != "" {
		info.Accept = AcceptToken(info.Key)
	}
	if n := br.Buffered(); n > 0 {
		rest, _ := br.Peek(n)
		info.Buffered = append([]byte(nil), rest...)
	}
	return info, nil
}

// parseHeader accepts "Name: value" where Name has no whitespace.
func parseHeader(line string) (Header, bool) {
	idx := strings.Index(line, ": ")
	if idx <= 0 {
		return Header{}, false
	}
	name := line[:idx]
	if strings.ContainsAny(name, " \t") {
		return Header{}, false
	}
	return Header{Name: name, Value: line[idx+2:]}, true
}

// WriteResponse writes the fixed 101 upgrade response.
func WriteResponse(w io.Writer, accept string) error {
	_, err := io.WriteString(w, "HTTP/1.1 101 Web Socket Protocol Handshake\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+accept+"\r\n\r\n")
	return err
}
