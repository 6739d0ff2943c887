package wire

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader()
	h.Add("X-Trace-Id", "abc123")
	h.Add("X-Tag", "one")
	h.Add("X-Tag", "two")

	enc := h.Encode()
	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.Get("x-trace-id") != "abc123" {
		t.Errorf("case-insensitive Get failed: %q", got.Get("x-trace-id"))
	}
	vals := got.Values("X-Tag")
	if len(vals) != 2 || vals[0] != "one" || vals[1] != "two" {
		t.Errorf("Values order not preserved: %v", vals)
	}
}

func TestHeaderStatusLine(t *testing.T) {
	h := NewHeader()
	h.StatusCode = 503
	h.StatusDesc = "No Responders"
	enc := h.Encode()

	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !got.IsNoResponders() {
		t.Errorf("expected IsNoResponders true, got code=%d desc=%q", got.StatusCode, got.StatusDesc)
	}
	if got.StatusDesc != "No Responders" {
		t.Errorf("StatusDesc = %q", got.StatusDesc)
	}
}

func TestHeaderDecodeRejectsMissingPreamble(t *testing.T) {
	if _, err := DecodeHeader([]byte("X-A: 1\r\n\r\n")); err == nil {
		t.Fatal("expected error for missing NATS/1.0 preamble")
	}
}

func TestHeaderSetReplacesAllValues(t *testing.T) {
	h := NewHeader()
	h.Add("X-A", "1")
	h.Add("X-A", "2")
	h.Set("X-A", "3")
	if vals := h.Values("X-A"); len(vals) != 1 || vals[0] != "3" {
		t.Errorf("Set did not replace prior values: %v", vals)
	}
}

func TestHeaderDel(t *testing.T) {
	h := NewHeader()
	h.Add("X-A", "1")
	h.Add("X-B", "2")
	h.Del("x-a")
	if h.Get("X-A") != "" {
		t.Errorf("Del did not remove key case-insensitively")
	}
	if h.Get("X-B") != "2" {
		t.Errorf("Del removed unrelated key")
	}
}

func TestHeaderEncodeNoStatus(t *testing.T) {
	h := NewHeader()
	h.Add("X-A", "1")
	enc := string(h.Encode())
	want := "NATS/1.0\r\nX-A: 1\r\n\r\n"
	if enc != want {
		t.Fatalf("got %q want %q", enc, want)
	}
}
