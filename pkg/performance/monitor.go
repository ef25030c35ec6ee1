package performance

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RollingAverage is the mean of the last N durations.
type RollingAverage struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	count   int
	sum     time.Duration
	max     time.Duration
}

// NewRollingAverage tracks a window of size samples. Sizes below 1 are
// treated as 1.
func NewRollingAverage(size int) *RollingAverage {
	if size < 1 {
		size = 1
	}
	return &RollingAverage{samples: make([]time.Duration, size)}
}

// Add records d, replacing the oldest sample once the window is full.
func (r *RollingAverage) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.samples) {
		r.sum -= r.samples[r.next]
	} else {
		r.count++
	}
	r.samples[r.next] = d
	r.sum += d
	r.next = (r.next + 1) % len(r.samples)
	if d > r.max {
		r.max = d
	}
}

// Average returns the window mean, 0 without samples.
func (r *RollingAverage) Average() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	return r.sum / time.Duration(r.count)
}

// Max returns the largest sample ever added.
func (r *RollingAverage) Max() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

// Count returns the number of samples in the window.
func (r *RollingAverage) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// TickSample is what the player measures on every tick.
type TickSample struct {
	Ingest  time.Duration
	Present time.Duration
	Total   time.Duration

	Timestamp int64 // selected frame
	Ingested  int
	Dropped   int
	Evicted   int
	Transient bool
}

// Monitor aggregates playback timings and frame counters.
type Monitor struct {
	budget time.Duration // tick period the loop aims for

	ingest  *RollingAverage
	present *RollingAverage
	total   *RollingAverage

	mu        sync.Mutex
	ticks     int
	late      int
	ingested  int
	shown     int
	dropped   int
	evicted   int
	transient int
	lastTS    int64
	started   time.Time
}

// Report is a point-in-time view of a Monitor.
type Report struct {
	Ticks     int
	LateTicks int // ticks whose total time exceeded the budget

	AvgIngestMs  float64
	AvgPresentMs float64
	AvgTickMs    float64
	MaxTickMs    float64

	Ingested  int
	Shown     int // distinct frames selected for display
	Dropped   int
	Evicted   int
	Transient int

	Uptime time.Duration
}

// NewMonitor averages over window ticks and counts ticks slower than budget
// as late.
func NewMonitor(window int, budget time.Duration) *Monitor {
	return &Monitor{
		budget:  budget,
		ingest:  NewRollingAverage(window),
		present: NewRollingAverage(window),
		total:   NewRollingAverage(window),
		lastTS:  -1,
		started: time.Now(),
	}
}

// Record adds one tick.
func (m *Monitor) Record(s TickSample) {
	m.ingest.Add(s.Ingest)
	m.present.Add(s.Present)
	m.total.Add(s.Total)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ticks++
	if m.budget > 0 && s.Total > m.budget {
		m.late++
	}
	m.ingested += s.Ingested
	m.dropped += s.Dropped
	m.evicted += s.Evicted
	if s.Transient {
		m.transient++
	}
	if s.Timestamp != m.lastTS {
		m.shown++
		m.lastTS = s.Timestamp
	}
}

// Report summarizes everything recorded so far.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Report{
		Ticks:        m.ticks,
		LateTicks:    m.late,
		AvgIngestMs:  ms(m.ingest.Average()),
		AvgPresentMs: ms(m.present.Average()),
		AvgTickMs:    ms(m.total.Average()),
		MaxTickMs:    ms(m.total.Max()),
		Ingested:     m.ingested,
		Shown:        m.shown,
		Dropped:      m.dropped,
		Evicted:      m.evicted,
		Transient:    m.transient,
		Uptime:       time.Since(m.started),
	}
}

// Healthy means under 1% late ticks and no dropped frames.
func (r Report) Healthy() bool {
	if r.Dropped > 0 {
		return false
	}
	if r.Ticks == 0 {
		return true
	}
	return float64(r.LateTicks)/float64(r.Ticks) < 0.01
}

// Fields renders the report for structured logging.
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"ticks":      r.Ticks,
		"late":       r.LateTicks,
		"avg_tick":   round2(r.AvgTickMs),
		"max_tick":   round2(r.MaxTickMs),
		"avg_ingest": round2(r.AvgIngestMs),
		"avg_show":   round2(r.AvgPresentMs),
		"ingested":   r.Ingested,
		"shown":      r.Shown,
		"dropped":    r.Dropped,
		"evicted":    r.Evicted,
		"transient":  r.Transient,
		"healthy":    r.Healthy(),
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }
