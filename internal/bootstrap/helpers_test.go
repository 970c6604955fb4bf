package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"serviceloader/internal/config"
	"serviceloader/internal/events"
	"serviceloader/internal/host"
	"serviceloader/internal/launcher"
	"serviceloader/internal/marker"
)

const (
	testIdentity = "886834D1-4651-4872-996C-7B2578E953B9"
	testVersion  = "9.61.38.41"
	testPort     = 9696
	testPID      = 4242
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeLauncher struct {
	mu     sync.Mutex
	runs   []launcher.Spec
	starts []launcher.Spec

	// keyed by the first argument: "-d" deploy, "-i" install
	exitCodes map[string]int
	runErrs   map[string]error
	block     map[string]bool

	startErr error
	onStart  func()
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		exitCodes: make(map[string]int),
		runErrs:   make(map[string]error),
		block:     make(map[string]bool),
	}
}

func (f *fakeLauncher) Run(ctx context.Context, spec launcher.Spec) (launcher.Result, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	mode := spec.Args[0]
	err, code, block := f.runErrs[mode], f.exitCodes[mode], f.block[mode]
	f.mu.Unlock()

	if err != nil {
		return launcher.Result{ExitCode: -1}, err
	}
	if spec.OnLaunched != nil {
		spec.OnLaunched(100)
	}
	if block {
		<-ctx.Done()
		return launcher.Result{PID: 100, ExitCode: -1}, fmt.Errorf("%s did not finish: %w", spec.Path, context.Cause(ctx))
	}
	return launcher.Result{PID: 100, ExitCode: code}, nil
}

func (f *fakeLauncher) Start(ctx context.Context, spec launcher.Spec) (launcher.Result, error) {
	f.mu.Lock()
	f.starts = append(f.starts, spec)
	err, onStart := f.startErr, f.onStart
	f.mu.Unlock()

	if err != nil {
		return launcher.Result{ExitCode: -1}, err
	}
	if onStart != nil {
		onStart()
	}
	return launcher.Result{PID: testPID}, nil
}

func (f *fakeLauncher) runModes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	modes := make([]string, 0, len(f.runs))
	for _, r := range f.runs {
		modes = append(modes, r.Args[0])
	}
	return modes
}

func (f *fakeLauncher) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type fakeRegistry struct {
	apps []host.ExternalApplication
	err  error
}

func (r *fakeRegistry) ExternalApplications(ctx context.Context) ([]host.ExternalApplication, error) {
	return r.apps, r.err
}

type fakeManifest struct {
	version string
	err     error
}

func (m *fakeManifest) Manifest(ctx context.Context) (*host.Manifest, error) {
	if m.err != nil {
		return nil, m.err
	}
	man := &host.Manifest{}
	man.Runtime.Version = m.version
	return man, nil
}

type fakeMarker struct {
	hasErr error
	set    bool
}

func (m *fakeMarker) Has(ctx context.Context) (bool, error) { return m.set, m.hasErr }
func (m *fakeMarker) Set(ctx context.Context) error         { m.set = true; return nil }
func (m *fakeMarker) Close() error                          { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *recordingSink) Send(ctx context.Context, ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.State)
	}
	return out
}

// harness wires a Bootstrapper to fakes and a real bus on miniredis.
type harness struct {
	t        *testing.T
	cfg      *config.Config
	mr       *miniredis.Miniredis
	bus      *host.Bus
	launcher *fakeLauncher
	registry *fakeRegistry
	manifest *fakeManifest
	marker   marker.Store
	sink     *recordingSink
	logs     *syncBuffer
	clock    clock.Clock
	level    zerolog.Level
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.DefaultConfig()
	cfg.Service.InstallDir = t.TempDir()
	cfg.Timeouts = config.TimeoutConfig{}

	store, err := marker.NewFileStore(t.TempDir(), testIdentity, cfg.Marker.Name)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	h := &harness{
		t:        t,
		cfg:      cfg,
		mr:       mr,
		launcher: newFakeLauncher(),
		registry: &fakeRegistry{},
		manifest: &fakeManifest{version: testVersion},
		marker:   store,
		sink:     &recordingSink{},
		logs:     &syncBuffer{},
		clock:    clock.New(),
		level:    zerolog.InfoLevel,
	}
	h.bus = host.NewBus(client, h.clock)
	h.launcher.onStart = h.announceReady
	return h
}

// useMockClock switches the harness to a mock clock and returns it.
func (h *harness) useMockClock() *clock.Mock {
	mock := clock.NewMock()
	h.clock = mock
	client := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	h.t.Cleanup(func() { client.Close() })
	h.bus = host.NewBus(client, mock)
	return mock
}

func (h *harness) announceReady() {
	payload, _ := json.Marshal(map[string]any{"sender": testIdentity, "payload": map[string]string{"status": "ready"}})
	h.mr.Publish(h.cfg.Service.ReadinessTopic, string(payload))
}

func (h *harness) deps() Deps {
	log := zerolog.New(h.logs)
	return Deps{
		Launcher: h.launcher,
		Registry: h.registry,
		Bus:      h.bus,
		Manifest: h.manifest,
		Marker:   h.marker,
		Events:   h.sink,
		Port:     func() (int, error) { return testPort, nil },
		MinLevel: func() zerolog.Level { return h.level },
		Clock:    h.clock,
		Log:      &log,
	}
}

func (h *harness) newBootstrapper() *Bootstrapper {
	return New(h.cfg, h.deps())
}

// runAdvancing runs b while advancing mock until it finishes.
func runAdvancing(t *testing.T, b *Bootstrapper, mock *clock.Mock, step time.Duration) Outcome {
	t.Helper()
	done := make(chan Outcome, 1)
	go func() { done <- b.Run(context.Background()) }()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case out := <-done:
			return out
		case <-deadline:
			t.Fatal("bootstrap did not finish")
		case <-time.After(10 * time.Millisecond):
			mock.Add(step)
		}
	}
}

func waitForNoSubscribers(t *testing.T, mr *miniredis.Miniredis, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.PubSubNumSub(topic)[topic] == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription on %s was not removed", topic)
}

func assertUnresolved(t *testing.T, s *Signal) {
	t.Helper()
	if s.Resolved() {
		t.Fatal("expected signal to stay unresolved")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Wait to time out, got %v", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
