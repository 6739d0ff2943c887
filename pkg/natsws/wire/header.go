package wire

import (
	"strconv"
	"strings"
)

// Header is an ordered case-insensitive multi-map, plus the optional status
// line carried by HMSG replies (used by the 503 No Responders sentinel).
type Header struct {
	keys   []string // original-case keys in Add order, may repeat
	values []string // parallel to keys

	StatusCode int
	StatusDesc string
}

// NewHeader returns an empty Header.
func NewHeader() *Header { return &Header{} }

// Add appends a value for key, preserving insertion order among all values
// (including across repeated keys).
func (h *Header) Add(key, value string) {
	h.keys = append(h.keys, key)
	h.values = append(h.values, value)
}

// Set replaces all existing values for key with a single value.
func (h *Header) Set(key, value string) {
	h.Del(key)
	h.Add(key, value)
}

// Del removes every value stored under key (case-insensitive).
func (h *Header) Del(key string) {
	keys := h.keys[:0]
	values := h.values[:0]
	for i, k := range h.keys {
		if strings.EqualFold(k, key) {
			continue
		}
		keys = append(keys, k)
		values = append(values, h.values[i])
	}
	h.keys, h.values = keys, values
}

// Get returns the first value stored for key, or "" if absent.
func (h *Header) Get(key string) string {
	for i, k := range h.keys {
		if strings.EqualFold(k, key) {
			return h.values[i]
		}
	}
	return ""
}

// Values returns every value stored for key, in insertion order.
func (h *Header) Values(key string) []string {
	var out []string
	for i, k := range h.keys {
		if strings.EqualFold(k, key) {
			out = append(out, h.values[i])
		}
	}
	return out
}

// IsNoResponders reports the 503/"No Responders" sentinel status used by
// the request/reply layer.
func (h *Header) IsNoResponders() bool {
	return h.StatusCode == 503
}

// Encode renders the header block in wire form:
// NATS/1.0[ <code>[ <desc>]]\r\n(<k>: <v>\r\n)*\r\n
func (h *Header) Encode() []byte {
	var sb strings.Builder
	sb.WriteString("NATS/1.0")
	if h.StatusCode != 0 {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(h.StatusCode))
		if h.StatusDesc != "" {
			sb.WriteByte(' ')
			sb.WriteString(h.StatusDesc)
		}
	}
	sb.WriteString(crlf)
	for i, k := range h.keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(h.values[i])
		sb.WriteString(crlf)
	}
	sb.WriteString(crlf)
	return []byte(sb.String())
}

// DecodeHeader parses a header block previously produced by Encode (or
// received from the wire in an HMSG).
func DecodeHeader(raw []byte) (*Header, error) {
	h := &Header{}
	lines := strings.Split(string(raw), crlf)

	if len(lines) == 0 || !strings.HasPrefix(lines[0], "NATS/1.0") {
		return nil, errMalformedHeader
	}
	rest := strings.TrimSpace(strings.TrimPrefix(lines[0], "NATS/1.0"))
	if rest != "" {
		fields := strings.SplitN(rest, " ", 2)
		code, err := strconv.Atoi(fields[0])
		if err == nil {
			h.StatusCode = code
		}
		if len(fields) == 2 {
			h.StatusDesc = strings.TrimSpace(fields[1])
		}
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		h.Add(key, value)
	}

	return h, nil
}

var errMalformedHeader = headerError("header block does not begin with NATS/1.0")

type headerError string

func (e headerError) Error() string { return string(e) }
