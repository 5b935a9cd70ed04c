package gossip

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testCluster = "test-cluster"

var (
	nodeA = NewEndpoint("127.0.0.1", 7001, 0)
	nodeB = NewEndpoint("127.0.0.1", 7002, 0)
	nodeC = NewEndpoint("127.0.0.1", 7003, 0)
	nodeD = NewEndpoint("127.0.0.1", 7004, 0)
)

type sentMessage struct {
	msg *Message
	to  Endpoint
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (t *recordingTransport) SendOneWay(_ context.Context, msg *Message, to Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, sentMessage{msg: msg, to: to})
	return nil
}

func (t *recordingTransport) byVerb(v Verb) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentMessage
	for _, s := range t.sent {
		if s.msg.Verb == v {
			out = append(out, s)
		}
	}
	return out
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// fakeDetector counts calls and convicts only the endpoints it is told to.
type fakeDetector struct {
	mu        sync.Mutex
	reported  map[Endpoint]int
	cleared   map[Endpoint]int
	removed   map[Endpoint]int
	convict   map[Endpoint]bool
	listeners []ConvictionListener
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		reported: make(map[Endpoint]int),
		cleared:  make(map[Endpoint]int),
		removed:  make(map[Endpoint]int),
		convict:  make(map[Endpoint]bool),
	}
}

func (d *fakeDetector) Report(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reported[ep]++
}

func (d *fakeDetector) Interpret(ep Endpoint) {
	d.mu.Lock()
	convict := d.convict[ep]
	listeners := append([]ConvictionListener(nil), d.listeners...)
	d.mu.Unlock()
	if !convict {
		return
	}
	for _, l := range listeners {
		l.Convict(ep, 42)
	}
}

func (d *fakeDetector) Clear(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared[ep]++
}

func (d *fakeDetector) Remove(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed[ep]++
}

func (d *fakeDetector) RegisterListener(l ConvictionListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *fakeDetector) count(m map[Endpoint]int, ep Endpoint) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return m[ep]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder remembers every callback as "kind:endpoint".
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(kind string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+ep.String())
}

func (r *recorder) OnJoin(ep Endpoint, _ *EndpointState)  { r.add("join", ep) }
func (r *recorder) OnAlive(ep Endpoint, _ *EndpointState) { r.add("alive", ep) }
func (r *recorder) OnDead(ep Endpoint, _ *EndpointState)  { r.add("dead", ep) }
func (r *recorder) OnRemove(ep Endpoint)                  { r.add("remove", ep) }
func (r *recorder) OnRestart(ep Endpoint, _ *EndpointState) {
	r.add("restart", ep)
}
func (r *recorder) OnChange(ep Endpoint, key AppStateKey, v VersionedValue) {
	r.add(fmt.Sprintf("change(%s=%s)", key, v.Value), ep)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	g         *Gossiper
	transport *recordingTransport
	fd        *fakeDetector
	clock     *fakeClock
	events    *recorder
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{
		ClusterID:    testCluster,
		Local:        nodeA,
		Interval:     time.Second,
		RingDelay:    30 * time.Second,
		ManualRounds: true,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		transport: &recordingTransport{},
		fd:        newFakeDetector(),
		clock:     newFakeClock(),
		events:    &recorder{},
	}
	g, err := New(cfg, h.transport, h.fd,
		WithClock(h.clock.Now),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	require.NoError(t, err)
	g.Register(h.events)
	require.NoError(t, g.Start(context.Background(), 1))
	h.g = g
	return h
}

// remoteState builds a state as it would arrive off the wire.
func remoteState(generation, version int32, values map[AppStateKey]VersionedValue) *EndpointState {
	es := newEndpointState(HeartbeatState{Generation: generation, Version: version}, time.Time{})
	for k, v := range values {
		es.appStates[k] = v
	}
	return es
}

func (h *harness) apply(ep Endpoint, es *EndpointState) {
	h.g.notifyFailureDetectorAll(map[Endpoint]*EndpointState{ep: es})
	h.g.applyStateLocally(map[Endpoint]*EndpointState{ep: es})
}

func (h *harness) isLive(ep Endpoint) bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	_, ok := h.g.live[ep]
	return ok
}

func (h *harness) isUnreachable(ep Endpoint) bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	_, ok := h.g.unreachable[ep]
	return ok
}
