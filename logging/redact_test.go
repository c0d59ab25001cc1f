package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedactMode(t *testing.T) {
	assert.Equal(t, RedactNone, ParseRedactMode("none"))
	assert.Equal(t, RedactNone, ParseRedactMode(" NONE "))
	assert.Equal(t, RedactMaskSecrets, ParseRedactMode("maskSecrets"))
	assert.Equal(t, RedactMaskSecrets, ParseRedactMode(""))
	assert.Equal(t, RedactMaskSecrets, ParseRedactMode("bogus"))
}

func TestRedactor_PayloadKeys(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets)
	entry := NewEntry(INFO, "x", testNow, WithPayload(map[string]any{
		"token": "abc123",
		"note":  "fine",
	}))

	out := r.Redact(entry)

	assert.JSONEq(t, `{"token":"***","note":"fine"}`, out.Payload.String())
	assert.JSONEq(t, `{"token":"abc123","note":"fine"}`, entry.Payload.String())
}

func TestRedactor_KeyMatchIsCaseInsensitiveSubstring(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets)
	entry := NewEntry(INFO, "x", testNow, WithPayload(map[string]any{
		"X-Api_Key":     "k",
		"refreshToken":  "r",
		"Authorization": "Bearer z",
		"db_password":   map[string]any{"nested": "not walked"},
		"clientSecret":  []any{"a", "b"},
		"username":      "alice",
	}))

	out := r.Redact(entry)

	assert.JSONEq(t, `{
		"X-Api_Key":"***",
		"refreshToken":"***",
		"Authorization":"***",
		"db_password":"***",
		"clientSecret":"***",
		"username":"alice"
	}`, out.Payload.String())
}

func TestRedactor_StringFallback(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets)
	entry := NewEntry(INFO, "x", testNow, WithPayload(map[string]any{
		"header": "authorization: Bearer xyz",
		"list":   []any{"ok", "has TOKEN inside", 3, true, nil},
		"deep":   map[string]any{"inner": map[string]any{"value": "api_key=1"}},
	}))

	out := r.Redact(entry)

	assert.JSONEq(t, `{
		"header":"***",
		"list":["ok","***",3,true,null],
		"deep":{"inner":{"value":"***"}}
	}`, out.Payload.String())
}

func TestRedactor_ScalarPayload(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets)

	out := r.Redact(NewEntry(INFO, "x", testNow, WithPayload("my token is here")))
	assert.Equal(t, String("***"), *out.Payload)

	out = r.Redact(NewEntry(INFO, "x", testNow, WithPayload(12)))
	assert.Equal(t, Number(12), *out.Payload)
}

func TestRedactor_Message(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"login with api_key=SECRET123", "login with api_key=***"},
		{"GET /x?token=abc&page=2 done", "GET /x?token=***&page=2 done"},
		{"KEY=v1 and Token=v2", "KEY=*** and Token=***"},
		{"nothing to hide", "nothing to hide"},
		{"apikey SECRET", "apikey SECRET"},
	}

	r := NewRedactor(RedactMaskSecrets)
	for _, tt := range tests {
		out := r.Redact(NewEntry(INFO, tt.in, testNow))
		assert.Equal(t, tt.want, out.Message, tt.in)
	}
}

func TestRedactor_ContextAndHTTP(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets)
	entry := NewEntry(INFO, "x", testNow,
		WithHTTP(HTTPInfo{Method: "GET", URL: "https://api.example.com/?token=abc", Status: 200}),
		WithContext(ContextInfo{Module: "billing", Model: "gpt", KeyMask: "sk-...abcd", File: "main.go"}),
	)

	out := r.Redact(entry)

	require.NotNil(t, out.HTTP)
	assert.Equal(t, "GET", out.HTTP.Method)
	assert.Equal(t, "***", out.HTTP.URL)
	assert.Equal(t, 200, out.HTTP.Status)
	assert.Equal(t, "billing", out.Context.Module)
	assert.Equal(t, "sk-...abcd", out.Context.KeyMask)

	assert.Equal(t, "https://api.example.com/?token=abc", entry.HTTP.URL)
}

func TestRedactor_ExtraKeys(t *testing.T) {
	r := NewRedactor(RedactMaskSecrets, "SSN", " ", "")
	entry := NewEntry(INFO, "x", testNow, WithPayload(map[string]any{
		"user_ssn": "123-45-6789",
		"name":     "bob",
	}))

	out := r.Redact(entry)
	assert.JSONEq(t, `{"user_ssn":"***","name":"bob"}`, out.Payload.String())

	ctxOut := r.Redact(NewEntry(INFO, "x", testNow, WithContext(ContextInfo{Model: "m"})))
	assert.Equal(t, "m", ctxOut.Context.Model)
}

func TestRedactor_NoneIsIdentity(t *testing.T) {
	r := NewRedactor(RedactNone)
	entry := NewEntry(INFO, "api_key=SECRET", testNow, WithPayload(map[string]any{"token": "abc"}))

	out := r.Redact(entry)

	assert.Equal(t, entry, out)
}

func TestRedactor_DepthBound(t *testing.T) {
	var nested any = "leaf"
	for i := 0; i < MaxDepth+5; i++ {
		nested = []any{nested}
	}
	v := ValueOf(nested)

	out := NewRedactor(RedactMaskSecrets).Redact(NewEntry(INFO, "x", testNow, WithValue(v)))

	cur := *out.Payload
	for cur.Kind() == KindArray {
		cur = cur.Index(0)
	}
	assert.Equal(t, String(truncatedPlaceholder), cur)
}

func TestUnredactable(t *testing.T) {
	entry := NewEntry(ERROR, "boom token=abc", testNow, WithField("token", "abc"))

	out := unredactable(entry)

	assert.Equal(t, ERROR, out.Level)
	assert.Equal(t, entry.Timestamp, out.Timestamp)
	assert.Equal(t, "***", out.Message)
	assert.Equal(t, String("[unredactable]"), *out.Payload)
}
