package logging

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Level is an entry severity. The numeric values are part of the
// ordering contract and are never renumbered.
type Level int

const (
	DEBUG Level = 10
	INFO  Level = 20
	WARN  Level = 30
	ERROR Level = 40
	FATAL Level = 50
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// Levels lists every level in ascending severity.
var Levels = []Level{DEBUG, INFO, WARN, ERROR, FATAL}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) ShouldLog(min Level) bool {
	return l >= min
}

func ParseLevel(s string) Level {
	level, ok := lookupLevel(s)
	if !ok {
		return INFO
	}
	return level
}

func lookupLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, true
	case "INFO":
		return INFO, true
	case "WARN", "WARNING":
		return WARN, true
	case "ERROR":
		return ERROR, true
	case "FATAL":
		return FATAL, true
	default:
		return 0, false
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	level, ok := lookupLevel(string(text))
	if !ok {
		return fmt.Errorf("unknown level %q", text)
	}
	*l = level
	return nil
}

func (l Level) MarshalCBOR() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return cbor.Marshal(l.String())
}

func (l *Level) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode level: %w", err)
	}
	return l.UnmarshalText([]byte(s))
}
