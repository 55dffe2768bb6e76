package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestIDStringAndNumberDistinct(t *testing.T) {
	s := NewID("1")
	n := NewID(1)
	if s.Key() == n.Key() {
		t.Fatalf("string and numeric ids must not collide: %q vs %q", s.Key(), n.Key())
	}
	if s.String() != "1" || n.String() != "1" {
		t.Fatalf("unexpected String(): %q %q", s.String(), n.String())
	}
}

func TestIDRoundTrip(t *testing.T) {
	cases := []string{`42`, `"abc"`, `3.5`}
	for _, c := range cases {
		var id ID
		if err := json.Unmarshal([]byte(c), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", c, err)
		}
		b, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != c {
			t.Fatalf("round trip %s -> %s", c, string(b))
		}
	}
	var id ID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Fatalf("expected error for object id")
	}
}

func TestIDNullIsNotZero(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`null`), &id); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if id.Key() != "" || id.String() != "" {
		t.Fatalf("null id must stay empty, got key %q", id.Key())
	}

	// Error responses with "id":null carry no correlation id at all.
	var resp Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != nil && resp.ID.Key() != "" {
		t.Fatalf("null id decoded as %q", resp.ID.Key())
	}
}

func TestMessageClassification(t *testing.T) {
	var resp Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.IsResponse() || resp.IsNotification() {
		t.Fatalf("expected response, got %+v", resp)
	}
	if resp.ID.Key() != NewID(7).Key() {
		t.Fatalf("id mismatch: %q", resp.ID.Key())
	}

	var notif Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}`), &notif); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notif.IsResponse() || !notif.IsNotification() {
		t.Fatalf("expected notification, got %+v", notif)
	}
}

func TestEncodeAppendsNewline(t *testing.T) {
	req, err := NewRequest(NewID(1), "tools/list", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := req.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[len(b)-1] != '\n' {
		t.Fatalf("encoded frame must end with newline: %q", string(b))
	}
}
