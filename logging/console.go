package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

type ConsoleConfig struct {
	Output    io.Writer
	Formatter Formatter
	Level     Level
}

// Console writes diagnostic lines about the logger itself: delivery
// outcomes, recovered panics and the optional echo. It never feeds the
// memory log.
type Console struct {
	mu        sync.Mutex
	out       io.Writer
	formatter Formatter
	level     Level
}

func NewConsole(cfg ConsoleConfig) *Console {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewHumanFormatter(out)
	}

	level := cfg.Level
	if !level.Valid() {
		level = INFO
	}

	return &Console{
		out:       out,
		formatter: formatter,
		level:     level,
	}
}

// DiscardConsole returns a console that drops everything.
func DiscardConsole() *Console {
	return NewConsole(ConsoleConfig{Output: io.Discard, Formatter: &JSONFormatter{}, Level: FATAL})
}

func (c *Console) Enabled(level Level) bool {
	return c != nil && c.out != io.Discard && level.ShouldLog(c.level)
}

func (c *Console) Write(entry Entry) {
	if !c.Enabled(entry.Level) {
		return
	}

	data, err := c.formatter.Format(entry)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(data)
}

func (c *Console) Log(level Level, msg string, details ...Detail) {
	if !c.Enabled(level) {
		return
	}
	c.Write(NewEntry(level, msg, time.Now(), details...))
}

func (c *Console) Debug(msg string, details ...Detail) { c.Log(DEBUG, msg, details...) }
func (c *Console) Info(msg string, details ...Detail)  { c.Log(INFO, msg, details...) }
func (c *Console) Warn(msg string, details ...Detail)  { c.Log(WARN, msg, details...) }
func (c *Console) Error(msg string, details ...Detail) { c.Log(ERROR, msg, details...) }
