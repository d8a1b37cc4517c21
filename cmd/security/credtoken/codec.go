package credtoken

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Bundle is the opaque credential material (keys + registration metadata).
// Only its JSON object shape matters here.
type Bundle map[string]any

const (
	delimColon = ":"
	delimTilde = "~"
)

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// Encode serializes the bundle to JSON and returns its standard base64 form.
// encoding/json sorts map keys, so equal bundles always produce equal tokens.
func Encode(b Bundle) (string, error) {
	if b == nil {
		b = Bundle{}
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeText encodes an already serialized JSON object (e.g. a creds.json file).
// The text is compacted first so formatting never leaks into the token.
func EncodeText(text []byte) (string, error) {
	if !isJSONObject(text) {
		return "", decodeErr("credentials are not a JSON object", nil)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, text); err != nil {
		return "", decodeErr("compact credentials", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode resolves a token into a bundle.
func Decode(token string) (Bundle, error) {
	text, err := DecodeText(token)
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(text, &b); err != nil {
		return nil, decodeErr("unmarshal bundle", err)
	}
	return b, nil
}

// DecodeText resolves a token into validated JSON object text.
// The returned slice is what gets written to disk verbatim by the reconciler.
func DecodeText(token string) ([]byte, error) {
	s := strings.TrimSpace(token)
	if s == "" {
		return nil, decodeErr("empty token", nil)
	}

	if strings.HasPrefix(s, "{") && isJSONObject([]byte(s)) {
		return []byte(s), nil
	}

	s = stripPrefix(s)
	if s == "" {
		return nil, decodeErr("empty payload after delimiter", nil)
	}

	raw, err := decodeBase64(s)
	if err != nil {
		return nil, decodeErr("payload is not base64", err)
	}
	raw = bytes.TrimSpace(raw)
	if !isJSONObject(raw) {
		return nil, decodeErr("payload is not a JSON object", nil)
	}
	return raw, nil
}

// stripPrefix drops everything up to the first ':' or, failing that, the first '~'.
func stripPrefix(s string) string {
	if _, after, ok := strings.Cut(s, delimColon); ok {
		return strings.TrimSpace(after)
	}
	if _, after, ok := strings.Cut(s, delimTilde); ok {
		return strings.TrimSpace(after)
	}
	return s
}

func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range base64Encodings {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return false
	}
	return json.Valid(b)
}
