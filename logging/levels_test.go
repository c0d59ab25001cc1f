package logging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestLevel_Severities(t *testing.T) {
	assert.Equal(t, 10, int(DEBUG))
	assert.Equal(t, 20, int(INFO))
	assert.Equal(t, 30, int(WARN))
	assert.Equal(t, 40, int(ERROR))
	assert.Equal(t, 50, int(FATAL))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"WARN", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{" Fatal ", FATAL},
		{"invalid", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), tt.input)
	}
}

func TestLevel_ShouldLog(t *testing.T) {
	tests := []struct {
		level Level
		min   Level
		want  bool
	}{
		{DEBUG, DEBUG, true},
		{DEBUG, INFO, false},
		{INFO, WARN, false},
		{WARN, WARN, true},
		{ERROR, WARN, true},
		{FATAL, ERROR, true},
		{ERROR, FATAL, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.ShouldLog(tt.min))
	}
}

func TestLevel_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Level Level `json:"level"`
	}{WARN})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"WARN"}`, string(data))

	var decoded struct {
		Level Level `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"fatal"}`), &decoded))
	assert.Equal(t, FATAL, decoded.Level)

	assert.Error(t, json.Unmarshal([]byte(`{"level":"loud"}`), &decoded))
}
