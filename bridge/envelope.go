package bridge

import (
	json "github.com/goccy/go-json"

	"github.com/agentfront/enclave/errs"
)

// Envelope is the string-mode wire format for a guest-originated tool
// call: spec.md §4.4's "{ v: 1, tool, args }".
type Envelope struct {
	V    int            `json:"v"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ResultEnvelope is the string-mode wire format for the host's
// response: "{ v: 1, ok, value|error }".
type ResultEnvelope struct {
	V     int            `json:"v"`
	OK    bool           `json:"ok"`
	Value any            `json:"value,omitempty"`
	Error *EnvelopeError `json:"error,omitempty"`
}

type EnvelopeError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// EncodeEnvelope serializes a call envelope, enforcing maxPayloadBytes
// as a UTF-8 byte estimate before returning.
func EncodeEnvelope(tool string, args map[string]any, maxPayloadBytes int64) (string, error) {
	env := Envelope{V: 1, Tool: tool, Args: args}
	b, err := json.Marshal(env)
	if err != nil {
		return "", errs.Wrap(errs.CodeBridgeProtocolError, "failed to serialize tool call envelope", err)
	}
	if maxPayloadBytes > 0 && int64(len(b)) > maxPayloadBytes {
		return "", errs.Newf(errs.CodeBridgeProtocolError, "tool call payload of %d bytes exceeds max_payload_bytes (%d)", len(b), maxPayloadBytes)
	}
	return string(b), nil
}

// DecodeResultEnvelope parses the host's JSON string response and
// validates its shape.
func DecodeResultEnvelope(raw string) (*ResultEnvelope, error) {
	var res ResultEnvelope
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, errs.Wrap(errs.CodeBridgeProtocolError, "failed to parse tool result envelope", err)
	}
	if res.V != 1 {
		return nil, errs.Newf(errs.CodeBridgeProtocolError, "unsupported tool result envelope version %d", res.V)
	}
	return &res, nil
}
