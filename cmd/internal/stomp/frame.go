// Package stomp implements the slice of STOMP 1.2 the platform broker
// speaks over its websocket endpoint: the CONNECT handshake, subscription
// management, sends, and the server's MESSAGE/RECEIPT/ERROR frames.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Frame commands (wire-stable).
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
	CommandDisconnect  = "DISCONNECT"
)

// Well-known header names.
const (
	HeaderDestination   = "destination"
	HeaderSubscription  = "subscription"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
)

var knownCommands = map[string]struct{}{
	CommandConnect:     {},
	CommandConnected:   {},
	CommandSubscribe:   {},
	CommandUnsubscribe: {},
	CommandSend:        {},
	CommandMessage:     {},
	CommandReceipt:     {},
	CommandError:       {},
	CommandDisconnect:  {},
}

// Public, stable errors for callers.
var (
	ErrMalformedFrame = errors.New("stomp: malformed frame")
	ErrUnknownCommand = errors.New("stomp: unknown command")
)

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Header  map[string]string
	Body    []byte
}

// NewFrame constructs a frame; header may be nil.
func NewFrame(command string, header map[string]string, body []byte) *Frame {
	if header == nil {
		header = make(map[string]string)
	}
	return &Frame{Command: command, Header: header, Body: body}
}

// Marshal serializes a frame. Headers are written in sorted order so output
// is deterministic, and content-length is added for non-empty bodies.
func Marshal(f *Frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	keys := make([]string, 0, len(f.Header))
	for k := range f.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// CONNECT/CONNECTED never escape headers (STOMP 1.2 exception).
	literal := f.Command == CommandConnect || f.Command == CommandConnected
	for _, k := range keys {
		v := f.Header[k]
		if !literal {
			k = escapeHeader(k)
			v = escapeHeader(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Header[HeaderContentLength]; !ok {
			b.WriteString(HeaderContentLength)
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(len(f.Body)))
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse deserializes one frame. Leading end-of-line heartbeats are
// tolerated; the first header occurrence wins on repeats (STOMP rule).
func Parse(data []byte) (*Frame, error) {
	for len(data) > 0 && (data[0] == '\n' || data[0] == '\r') {
		data = data[1:]
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedFrame)
	}

	headEnd := bytes.Index(data, []byte("\n\n"))
	bodyStart := headEnd + 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headEnd < 0 || crlf < headEnd) {
		headEnd = crlf
		bodyStart = crlf + 4
	}
	if headEnd < 0 {
		return nil, fmt.Errorf("%w: missing header terminator", ErrMalformedFrame)
	}

	lines := strings.Split(string(data[:headEnd]), "\n")
	command := strings.TrimSuffix(lines[0], "\r")
	if _, ok := knownCommands[command]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	literal := command == CommandConnect || command == CommandConnected
	header := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		if !literal {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, err
			}
		}
		if _, dup := header[k]; !dup {
			header[k] = v
		}
	}

	body := data[bodyStart:]
	if raw := header[HeaderContentLength]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, raw)
		}
		body = body[:n]
	} else if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}

	out := make([]byte, len(body))
	copy(out, body)
	return &Frame{Command: command, Header: header, Body: out}, nil
}

// IsHeartbeat reports whether data is a bare end-of-line keepalive rather
// than a frame.
func IsHeartbeat(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for _, b := range data {
		if b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}

func escapeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling escape", ErrMalformedFrame)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("%w: escape \\%c", ErrMalformedFrame, s[i])
		}
	}
	return b.String(), nil
}
