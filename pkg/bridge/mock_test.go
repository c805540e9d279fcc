package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_bridge/pkg/frame"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// mockTech технология для тестов: раздает кадры остальным участникам
// и записывает вызовы
type mockTech struct {
	BaseTechnology

	mu          sync.Mutex
	calls       []string
	reject      map[string]bool
	pushErr     map[string]error
	pushErrOnce map[string]error
	destroyed   int
	dissolving  int
	masquerades int
	frames      int
}

func newMockTech(name string, caps Capability, pref Preference) *mockTech {
	return &mockTech{
		BaseTechnology: BaseTechnology{TechName: name, Caps: caps, Pref: pref},
		reject:         make(map[string]bool),
		pushErr:        make(map[string]error),
		pushErrOnce:    make(map[string]error),
	}
}

func (t *mockTech) record(s string) {
	t.mu.Lock()
	t.calls = append(t.calls, s)
	t.mu.Unlock()
}

func (t *mockTech) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *mockTech) Reject(name string) {
	t.mu.Lock()
	t.reject[name] = true
	t.mu.Unlock()
}

func (t *mockTech) FailPush(name string, err error) {
	t.mu.Lock()
	t.pushErr[name] = err
	t.mu.Unlock()
}

// FailPushOnce проваливает только следующий Push участника
func (t *mockTech) FailPushOnce(name string, err error) {
	t.mu.Lock()
	t.pushErrOnce[name] = err
	t.mu.Unlock()
}

func (t *mockTech) Destroyed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

func (t *mockTech) DissolvingCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dissolving
}

func (t *mockTech) Masquerades() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.masquerades
}

func (t *mockTech) Frames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

func (t *mockTech) Destroy(b *Bridge) {
	t.mu.Lock()
	t.destroyed++
	t.mu.Unlock()
}

func (t *mockTech) Dissolving(b *Bridge) {
	t.mu.Lock()
	t.dissolving++
	t.mu.Unlock()
}

func (t *mockTech) CanPush(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.reject[bc.Channel().Name()]
}

func (t *mockTech) Push(b *Bridge, bc *BridgeChannel, swap *BridgeChannel) error {
	name := bc.Channel().Name()
	t.mu.Lock()
	err := t.pushErr[name]
	if once, ok := t.pushErrOnce[name]; ok {
		delete(t.pushErrOnce, name)
		err = once
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	bc.SetTechPvt(t.TechName)
	t.record("push:" + bc.Channel().Name())
	return nil
}

func (t *mockTech) Pull(b *Bridge, bc *BridgeChannel) {
	bc.SetTechPvt(nil)
	t.record("pull:" + bc.Channel().Name())
}

func (t *mockTech) NotifyMasquerade(b *Bridge, bc *BridgeChannel) {
	t.mu.Lock()
	t.masquerades++
	t.mu.Unlock()
}

func (t *mockTech) Write(b *Bridge, bc *BridgeChannel, f *frame.Frame) error {
	t.mu.Lock()
	t.frames++
	t.mu.Unlock()
	for _, other := range b.ParticipantsLocked() {
		if other == bc || other.Suspended() {
			continue
		}
		if err := other.QueueFrame(f.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// mockHooks обработчик функций для тестов
type mockHooks struct {
	match    frame.DTMFDigit
	interval chan time.Time
	block    chan struct{}

	mu        sync.Mutex
	features  []frame.DTMFDigit
	intervals int
	talking   []bool
	suspended []bool
}

func (h *mockHooks) MatchDTMF(d frame.DTMFDigit) bool { return d == h.match }

func (h *mockHooks) Feature(ctx context.Context, bc *BridgeChannel, d frame.DTMFDigit) {
	h.mu.Lock()
	h.features = append(h.features, d)
	h.suspended = append(h.suspended, bc.Suspended())
	h.mu.Unlock()
	if h.block != nil {
		<-h.block
	}
}

func (h *mockHooks) Interval(ctx context.Context, bc *BridgeChannel) {
	h.mu.Lock()
	h.intervals++
	h.mu.Unlock()
}

func (h *mockHooks) IntervalC() <-chan time.Time {
	if h.interval == nil {
		return nil
	}
	return h.interval
}

func (h *mockHooks) Talking(bc *BridgeChannel, talking bool) {
	h.mu.Lock()
	h.talking = append(h.talking, talking)
	h.mu.Unlock()
}

func (h *mockHooks) Features() []frame.DTMFDigit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]frame.DTMFDigit(nil), h.features...)
}

func (h *mockHooks) Intervals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.intervals
}

func (h *mockHooks) Talks() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.talking...)
}

// mockPlayer проигрыватель для тестов
type mockPlayer struct {
	mu     sync.Mutex
	played []string
	active []int
	b      *Bridge
}

func (p *mockPlayer) Play(ctx context.Context, ch Channel, file string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, ch.Name()+":"+file)
	if p.b != nil {
		p.active = append(p.active, p.b.NumActive())
	}
	return nil
}

func (p *mockPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// mockApps исполнитель приложений для тестов
type mockApps struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (a *mockApps) Run(ctx context.Context, ch Channel, app, args string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, ch.Name()+":"+app+"("+args+")")
	return a.err
}

func (a *mockApps) Runs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.runs...)
}

var errPushFailed = errors.New("push failed")

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newTestRegistry создает реестр с отключенным выводом логов.
// При завершении теста все мосты распускаются и уничтожаются.
func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(append([]Option{WithLogger(testLogger())}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func addTech(t *testing.T, r *Registry, name string, caps Capability, pref Preference) *mockTech {
	t.Helper()
	tech := newMockTech(name, caps, pref)
	require.NoError(t, r.RegisterTechnology(tech))
	return tech
}

func newTestBridge(t *testing.T, r *Registry, caps Capability, flags Flags) *Bridge {
	t.Helper()
	b, err := r.NewBridge(caps, flags)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func waitChannels(t *testing.T, b *Bridge, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.NumChannels() == n }, waitFor, tick,
		"ожидалось %d участников", n)
}

func dtmfBegin(r rune) *frame.Frame {
	d, _ := frame.ParseDTMFDigit(r)
	return frame.NewDTMF(frame.TypeDTMFBegin, d, 0)
}

func voice(energy int) *frame.Frame {
	f := frame.NewVoice(&rtp.Packet{Header: rtp.Header{PayloadType: 0}, Payload: []byte{0xff}})
	f.Energy = energy
	return f
}

func assertInvariant(t *testing.T, b *Bridge) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.LessOrEqual(t, b.numActive, b.numChannels)
	require.GreaterOrEqual(t, b.numActive, 0)
	require.Equal(t, len(b.channels), b.numChannels)
	seen := make(map[Channel]bool)
	for _, bc := range b.channels {
		require.False(t, seen[bc.ch], "канал %s дважды в мосту", bc.ch.Name())
		seen[bc.ch] = true
	}
}
