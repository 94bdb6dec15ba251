package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError is the typed failure of DecodeMessage. Code distinguishes
// malformed JSON (parse error) from structurally invalid messages (invalid
// request); ID carries the id recovered from the payload when the text was
// intact enough to extract one.
type DecodeError struct {
	Code ErrorCode
	ID   *RequestID
	err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message (code %d): %v", e.Code, e.err)
}

func (e *DecodeError) Unwrap() error {
	return e.err
}

// Response renders the decode failure as an error response keyed to the
// recovered id, or to the null id when none could be recovered.
func (e *DecodeError) Response() *Response {
	msg := "invalid request"
	if e.Code == ErrorCodeParseError {
		msg = "parse error"
	}
	return NewErrorResponse(e.ID, e.Code, msg, nil)
}

// DecodeMessage parses one line of wire text into a validated message. It
// never panics: every failure is reported as a *DecodeError. Syntactically
// broken JSON yields a parse error; structurally invalid JSON-RPC (bad
// version, id of the wrong type, request/response field mixing) yields an
// invalid request error.
func DecodeMessage(data []byte) (*AnyMessage, *DecodeError) {
	var msg AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		code := ErrorCodeInvalidRequest
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			code = ErrorCodeParseError
		}
		return nil, &DecodeError{
			Code: code,
			ID:   recoverID(data),
			err:  err,
		}
	}
	return &msg, nil
}

// EncodeMessage renders a message as a single line of UTF-8 text. JSON string
// escaping guarantees the result contains no raw newline bytes.
func EncodeMessage(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return b, nil
}

// recoverID does a best-effort extraction of the id field so decode failures
// can be answered with the caller's own correlation id. Any failure here
// collapses to the null id.
func recoverID(data []byte) *RequestID {
	var probe struct {
		ID *RequestID `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	return probe.ID
}
