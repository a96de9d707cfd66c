package engine

import (
	"sync"
	"time"
)

const (
	// throughputAlpha smooths the per-interval completion rate.
	throughputAlpha = 0.2
	// sampleInterval is the minimum wall time between throughput samples.
	sampleInterval = time.Second
	percentScale   = 100
)

// ema is an exponential moving average with a fixed smoothing factor.
type ema struct {
	alpha       float64
	value       float64
	initialized bool
}

func (e *ema) update(v float64) float64 {
	if !e.initialized {
		e.value = v
		e.initialized = true

		return e.value
	}

	e.value = e.alpha*v + (1-e.alpha)*e.value

	return e.value
}

// Snapshot is a point-in-time view of a run, served by the status endpoint.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Target     int64     `json:"target"`
	Processed  int64     `json:"processed"`
	Failed     int64     `json:"failed"`
	Buffered   int       `json:"buffered"`
	Cursor     int64     `json:"cursor"`
	Percent    float64   `json:"percent"`
	Throughput float64   `json:"throughput_per_sec"`
	ETASeconds float64   `json:"eta_seconds"`
	Done       bool      `json:"done"`
}

// Progress tracks counters and throughput of a run. The run loop writes it;
// any goroutine may read a Snapshot.
type Progress struct {
	mu  sync.RWMutex
	now func() time.Time

	runID     string
	startedAt time.Time
	target    int64
	processed int64
	failed    int64
	buffered  int
	cursor    int64
	done      bool

	rate          ema
	lastSample    time.Time
	lastProcessed int64
}

// NewProgress creates a tracker for runID.
func NewProgress(runID string) *Progress {
	return &Progress{
		runID: runID,
		now:   time.Now,
		rate:  ema{alpha: throughputAlpha},
	}
}

// Begin resets the counters for a run of target jobs.
func (p *Progress) Begin(target int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.startedAt = now
	p.lastSample = now
	p.target = target
	p.processed, p.failed, p.lastProcessed = 0, 0, 0
	p.done = false
	p.rate = ema{alpha: throughputAlpha}
}

// Observe counts one finished job and returns the processed count and the
// completion percentage.
func (p *Progress) Observe(failed bool) (processed int64, percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	if failed {
		p.failed++
	}

	now := p.now()
	if elapsed := now.Sub(p.lastSample); elapsed >= sampleInterval {
		p.rate.update(float64(p.processed-p.lastProcessed) / elapsed.Seconds())
		p.lastSample = now
		p.lastProcessed = p.processed
	}

	return p.processed, p.percent()
}

// SetQueueState records the sequencer backlog and the dispatcher cursor.
func (p *Progress) SetQueueState(buffered int, cursor int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffered = buffered
	p.cursor = cursor
}

// Finish marks the run complete.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = true
}

// Counts returns processed and failed.
func (p *Progress) Counts() (processed, failed int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.processed, p.failed
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	throughput := p.throughput()

	var eta float64
	if remaining := p.target - p.processed; remaining > 0 && throughput > 0 {
		eta = float64(remaining) / throughput
	}

	return Snapshot{
		RunID:      p.runID,
		StartedAt:  p.startedAt,
		Target:     p.target,
		Processed:  p.processed,
		Failed:     p.failed,
		Buffered:   p.buffered,
		Cursor:     p.cursor,
		Percent:    p.percent(),
		Throughput: throughput,
		ETASeconds: eta,
		Done:       p.done,
	}
}

// throughput falls back to the mean rate until the first sample is taken.
func (p *Progress) throughput() float64 {
	if p.rate.initialized {
		return p.rate.value
	}

	elapsed := p.now().Sub(p.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(p.processed) / elapsed
}

func (p *Progress) percent() float64 {
	if p.target <= 0 {
		return percentScale
	}

	return float64(p.processed) * percentScale / float64(p.target)
}
