package gossip

import (
	"math"
	"slices"
	"sync"
	"time"
)

// FailureDetector turns heartbeat arrivals into liveness verdicts.
type FailureDetector interface {
	// Report records a liveness sample for ep taken now.
	Report(ep Endpoint)
	// Interpret evaluates ep and convicts it through the registered listeners
	// if it is judged down.
	Interpret(ep Endpoint)
	// Clear drops the arrival history of ep, typically after a restart.
	Clear(ep Endpoint)
	// Remove forgets ep entirely.
	Remove(ep Endpoint)
	RegisterListener(l ConvictionListener)
}

// ConvictionListener is told when the detector judges an endpoint down.
type ConvictionListener interface {
	Convict(ep Endpoint, phi float64)
}

const (
	DefaultPhiConvictThreshold = 8.0
	defaultArrivalWindow       = 1000
	defaultInitialInterval     = 2 * time.Second

	phiFactor = 1.0 / math.Ln10
)

// PhiAccrualDetector is the accrual failure detector from Hayashibara et al.
// with the exponential approximation Cassandra uses: phi grows linearly with
// the time since the last arrival divided by the mean inter-arrival time.
type PhiAccrualDetector struct {
	mu              sync.Mutex
	threshold       float64
	windowSize      int
	initialInterval time.Duration
	now             func() time.Time
	arrivals        map[Endpoint]*arrivalWindow
	listeners       []ConvictionListener
}

type DetectorOption func(*PhiAccrualDetector)

// WithDetectorClock replaces time.Now, for tests.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *PhiAccrualDetector) { d.now = now }
}

// WithInitialInterval sets the interval assumed before a second sample exists.
func WithInitialInterval(interval time.Duration) DetectorOption {
	return func(d *PhiAccrualDetector) { d.initialInterval = interval }
}

// WithWindowSize bounds the number of inter-arrival samples kept per endpoint.
func WithWindowSize(n int) DetectorOption {
	return func(d *PhiAccrualDetector) { d.windowSize = n }
}

func NewPhiAccrualDetector(threshold float64, opts ...DetectorOption) *PhiAccrualDetector {
	if threshold <= 0 {
		threshold = DefaultPhiConvictThreshold
	}
	d := &PhiAccrualDetector{
		threshold:       threshold,
		windowSize:      defaultArrivalWindow,
		initialInterval: defaultInitialInterval,
		now:             time.Now,
		arrivals:        make(map[Endpoint]*arrivalWindow),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *PhiAccrualDetector) RegisterListener(l ConvictionListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *PhiAccrualDetector) Report(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.arrivals[ep]
	if !ok {
		w = newArrivalWindow(d.windowSize)
		d.arrivals[ep] = w
	}
	w.add(d.now(), d.initialInterval)
}

func (d *PhiAccrualDetector) Interpret(ep Endpoint) {
	d.mu.Lock()
	w, ok := d.arrivals[ep]
	if !ok {
		d.mu.Unlock()
		return
	}
	phi := phiFactor * w.phi(d.now())
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	if phi <= d.threshold {
		return
	}
	for _, l := range listeners {
		l.Convict(ep, phi)
	}
}

// Phi returns the current suspicion level of ep, 0 when nothing is known.
func (d *PhiAccrualDetector) Phi(ep Endpoint) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.arrivals[ep]
	if !ok {
		return 0
	}
	return phiFactor * w.phi(d.now())
}

func (d *PhiAccrualDetector) Clear(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.arrivals[ep]; ok {
		w.clear()
	}
}

func (d *PhiAccrualDetector) Remove(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.arrivals, ep)
}

// arrivalWindow is a fixed size ring of inter-arrival times in milliseconds.
type arrivalWindow struct {
	last      time.Time
	intervals []float64
	next      int
	count     int
	sum       float64
}

func newArrivalWindow(size int) *arrivalWindow {
	if size <= 0 {
		size = defaultArrivalWindow
	}
	return &arrivalWindow{intervals: make([]float64, size)}
}

func (w *arrivalWindow) add(at time.Time, initial time.Duration) {
	interval := initial
	if !w.last.IsZero() {
		interval = at.Sub(w.last)
	}
	w.push(float64(interval) / float64(time.Millisecond))
	w.last = at
}

func (w *arrivalWindow) push(v float64) {
	if w.count == len(w.intervals) {
		w.sum -= w.intervals[w.next]
	} else {
		w.count++
	}
	w.intervals[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.intervals)
}

func (w *arrivalWindow) mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

func (w *arrivalWindow) phi(now time.Time) float64 {
	mean := w.mean()
	if w.last.IsZero() || mean <= 0 {
		return 0
	}
	since := float64(now.Sub(w.last)) / float64(time.Millisecond)
	return since / mean
}

func (w *arrivalWindow) clear() {
	w.last = time.Time{}
	w.next, w.count, w.sum = 0, 0, 0
}
