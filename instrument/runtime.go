package instrument

import (
	"context"
	"runtime"
	"time"

	"github.com/auditmos/blackbox/clock"
	"github.com/auditmos/blackbox/logging"
)

const DefaultCollectInterval = 30 * time.Second

// Snapshot is the runtime state logged on every collection tick.
type Snapshot struct {
	Goroutines   int     `json:"goroutines"`
	HeapAlloc    uint64  `json:"heapAlloc"`
	HeapInuse    uint64  `json:"heapInuse"`
	HeapObjects  uint64  `json:"heapObjects"`
	NumGC        uint32  `json:"numGC"`
	PauseTotalMS float64 `json:"pauseTotalMs"`
	UptimeSec    float64 `json:"uptimeSec"`
}

func TakeSnapshot(started, now time.Time) Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		HeapInuse:    ms.HeapInuse,
		HeapObjects:  ms.HeapObjects,
		NumGC:        ms.NumGC,
		PauseTotalMS: float64(ms.PauseTotalNs) / 1e6,
		UptimeSec:    now.Sub(started).Seconds(),
	}
}

// AutoCollect logs a runtime snapshot every interval until ctx is done.
// It blocks; run it in its own goroutine.
func AutoCollect(ctx context.Context, logger logging.Logger, clk clock.Clock, interval time.Duration) {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	log := logger.With(logging.WithContext(logging.ContextInfo{Module: "runtime"}))
	started := clk.Now()

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Runtime collection stopped")
			return
		case now := <-ticker.C:
			log.Info("Runtime snapshot", logging.WithPayload(TakeSnapshot(started, now)))
		}
	}
}
