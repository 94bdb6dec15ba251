package jsonrpc

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func mustDecode(t *testing.T, line string) *AnyMessage {
	t.Helper()
	msg, derr := DecodeMessage([]byte(line))
	if derr != nil {
		t.Fatalf("decode %q: %v", line, derr)
	}
	return msg
}

func TestRoundTripWellFormedMessages(t *testing.T) {
	lines := []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}`,
		`{"jsonrpc":"2.0","id":"req-7","method":"session/prompt","params":{"sessionId":"abc"}}`,
		`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"abc","sequenceNumber":3}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
		`{"jsonrpc":"2.0","id":"req-7","error":{"code":-32001,"message":"session not found","data":{"sessionId":"nope"}}}`,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`,
	}

	for _, line := range lines {
		first := mustDecode(t, line)

		encoded, err := EncodeMessage(first)
		if err != nil {
			t.Fatalf("encode %q: %v", line, err)
		}
		if bytes.ContainsRune(encoded, '\n') {
			t.Fatalf("encoded message contains raw newline: %q", encoded)
		}

		second := mustDecode(t, string(encoded))
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("round trip mismatch for %q:\n first=%#v\nsecond=%#v", line, first, second)
		}
	}
}

func TestDecodeMalformedJSONIsParseError(t *testing.T) {
	msg, derr := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":7,"met`))
	if msg != nil {
		t.Fatalf("expected nil message, got %#v", msg)
	}
	if derr == nil {
		t.Fatal("expected decode error")
	}
	if derr.Code != ErrorCodeParseError {
		t.Fatalf("expected parse error code, got %d", derr.Code)
	}

	resp := derr.Response()
	encoded, err := EncodeMessage(resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	if !strings.Contains(string(encoded), `"id":null`) {
		t.Fatalf("parse error response must carry the null id, got %s", encoded)
	}
}

func TestDecodeStructurallyInvalidKeepsRecoveredID(t *testing.T) {
	cases := []struct {
		name string
		line string
		id   string
	}{
		{name: "wrong version", line: `{"jsonrpc":"1.0","id":3,"method":"initialize"}`, id: "3"},
		{name: "request with result", line: `{"jsonrpc":"2.0","id":4,"method":"cancel","result":{}}`, id: "4"},
		{name: "response with nothing", line: `{"jsonrpc":"2.0","id":"x"}`, id: "x"},
		{name: "method wrong type", line: `{"jsonrpc":"2.0","id":9,"method":12}`, id: "9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, derr := DecodeMessage([]byte(tc.line))
			if derr == nil {
				t.Fatal("expected decode error")
			}
			if derr.Code != ErrorCodeInvalidRequest {
				t.Fatalf("expected invalid request code, got %d", derr.Code)
			}
			if got := derr.ID.String(); got != tc.id {
				t.Fatalf("expected recovered id %q, got %q", tc.id, got)
			}
		})
	}
}

func TestMessageTypeDiscrimination(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "request"},
		{`{"jsonrpc":"2.0","method":"session/update","params":{}}`, "notification"},
		{`{"jsonrpc":"2.0","id":null,"method":"session/update","params":{}}`, "notification"},
		{`{"jsonrpc":"2.0","id":1,"result":{}}`, "response"},
		{`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`, "response"},
	}

	for _, tc := range cases {
		msg := mustDecode(t, tc.line)
		if got := msg.Type(); got != tc.want {
			t.Fatalf("type of %q: expected %q, got %q", tc.line, tc.want, got)
		}
	}
}

func TestRequestIDEquality(t *testing.T) {
	if !NewRequestID(int64(5)).Equal(NewRequestID(int64(5))) {
		t.Fatal("identical numeric ids must compare equal")
	}
	if NewRequestID("a").Equal(NewRequestID("b")) {
		t.Fatal("distinct string ids must not compare equal")
	}
	if !NullRequestID().Equal(nil) {
		t.Fatal("null id must compare equal to an absent id")
	}
}

func TestNewErrorResponseDefaultsToNullID(t *testing.T) {
	resp := NewErrorResponse(nil, ErrorCodeInternalError, "boom", nil)
	if resp.ID == nil || !resp.ID.IsNil() {
		t.Fatalf("expected explicit null id, got %#v", resp.ID)
	}
}
