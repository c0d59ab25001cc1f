package logging

import (
	"regexp"
	"strings"
)

type RedactMode string

const (
	RedactMaskSecrets RedactMode = "maskSecrets"
	RedactNone        RedactMode = "none"
)

// ParseRedactMode maps unknown input to RedactMaskSecrets so a typo
// never disables masking.
func ParseRedactMode(s string) RedactMode {
	if strings.EqualFold(strings.TrimSpace(s), string(RedactNone)) {
		return RedactNone
	}
	return RedactMaskSecrets
}

const (
	redactedValue    = "***"
	unredactableText = "[unredactable]"
)

var defaultSensitiveKeys = []string{"api_key", "token", "authorization", "secret", "password"}

var (
	sensitiveStringPattern = regexp.MustCompile(`(?i)api_key|token|authorization`)
	messageSecretPattern   = regexp.MustCompile(`(?i)(api_key|key|token)=[^\s&]+`)
)

type Redactor struct {
	mode RedactMode
	keys []string
}

// NewRedactor builds a redactor for mode. Extra keys extend the built-in
// sensitive key list and match the same way: case-insensitive substring.
func NewRedactor(mode RedactMode, extraKeys ...string) *Redactor {
	keys := append([]string(nil), defaultSensitiveKeys...)
	for _, k := range extraKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keys = append(keys, k)
		}
	}
	return &Redactor{mode: mode, keys: keys}
}

func (r *Redactor) Mode() RedactMode { return r.mode }

// Redact returns a copy of entry with secrets masked. The input is never
// modified.
func (r *Redactor) Redact(entry Entry) Entry {
	if r == nil || r.mode == RedactNone {
		return entry
	}

	out := entry.Clone()
	out.Message = RedactMessage(out.Message)

	if out.Payload != nil {
		payload := r.redactValue(*out.Payload, 0)
		out.Payload = &payload
	}

	if ctx := out.Context; ctx != nil {
		ctx.Module = r.redactField("module", ctx.Module)
		ctx.File = r.redactField("file", ctx.File)
		ctx.Func = r.redactField("func", ctx.Func)
		ctx.Model = r.redactField("model", ctx.Model)
		ctx.KeyMask = r.redactField("keyMask", ctx.KeyMask)
	}

	if h := out.HTTP; h != nil {
		h.Method = r.redactField("method", h.Method)
		h.URL = r.redactField("url", h.URL)
	}

	return out
}

// RedactMessage masks key=value style secrets in free text, keeping the
// surrounding text intact.
func RedactMessage(msg string) string {
	return messageSecretPattern.ReplaceAllString(msg, "${1}="+redactedValue)
}

func (r *Redactor) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (r *Redactor) redactField(key, value string) string {
	if value == "" {
		return value
	}
	if r.isSensitiveKey(key) {
		return redactedValue
	}
	return redactString(value)
}

func redactString(s string) string {
	if sensitiveStringPattern.MatchString(s) {
		return redactedValue
	}
	return s
}

func (r *Redactor) redactValue(v Value, depth int) Value {
	if depth > MaxDepth {
		return String(truncatedPlaceholder)
	}

	switch v.Kind() {
	case KindString:
		return String(redactString(v.Text()))
	case KindArray:
		items := make([]Value, 0, v.Len())
		for _, item := range v.arr {
			items = append(items, r.redactValue(item, depth+1))
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		obj := make(map[string]Value, len(v.obj))
		for k, field := range v.obj {
			if r.isSensitiveKey(k) {
				obj[k] = String(redactedValue)
				continue
			}
			obj[k] = r.redactValue(field, depth+1)
		}
		return Value{kind: KindObject, obj: obj}
	default:
		return v
	}
}

// unredactable replaces an entry that could not be redacted with a copy
// carrying no user data beyond level, timestamp and a masked message.
func unredactable(entry Entry) Entry {
	v := String(unredactableText)
	return Entry{
		Timestamp: entry.Timestamp,
		Level:     entry.Level,
		Message:   RedactMessage(redactString(entry.Message)),
		Payload:   &v,
	}
}
