package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facescan/internal/adapters/capture"
	"github.com/okian/facescan/internal/adapters/directory"
	"github.com/okian/facescan/internal/adapters/mq/queue"
	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/internal/domain/types"
	"github.com/okian/facescan/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const waitTimeout = 3 * time.Second

// fakeSource hands out 640x480 stills numbered by capture.
type fakeSource struct {
	mu sync.Mutex
	n  int
}

func (s *fakeSource) Open(context.Context) error { return nil }
func (s *fakeSource) Close() error               { return nil }

func (s *fakeSource) Capture(context.Context) (model.CapturedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return model.CapturedImage{
		Data:        []byte{0xff, 0xd8, byte(s.n)},
		ContentType: "image/jpeg",
		Width:       640,
		Height:      480,
		PreviewRef:  fmt.Sprintf("frame-%d", s.n),
		CapturedAt:  time.Now(),
	}, nil
}

// fakeAdapter scripts the results produced after each send. When linger is
// set, Close leaves Results open until finish is called.
type fakeAdapter struct {
	mode    model.TransportMode
	openErr error
	script  func(n int) []transport.Result
	linger  bool

	mu       sync.Mutex
	sent     []model.CapturedImage
	closed   bool
	finished bool
	results  chan transport.Result
}

func newFakeAdapter(mode model.TransportMode, script func(n int) []transport.Result) *fakeAdapter {
	return &fakeAdapter{mode: mode, script: script, results: make(chan transport.Result, 32)}
}

func (a *fakeAdapter) Mode() model.TransportMode        { return a.mode }
func (a *fakeAdapter) Results() <-chan transport.Result { return a.results }
func (a *fakeAdapter) Open(context.Context) error       { return a.openErr }

func (a *fakeAdapter) Send(_ context.Context, img model.CapturedImage) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return transport.NewKind("fake.send", transport.ErrClosed)
	}
	a.sent = append(a.sent, img)
	n := len(a.sent)
	a.mu.Unlock()
	if a.script != nil {
		for _, res := range a.script(n) {
			a.push(res)
		}
	}
	return nil
}

func (a *fakeAdapter) push(res transport.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	select {
	case a.results <- res:
	default:
	}
}

// finish closes Results, as the match service ending the stream would.
func (a *fakeAdapter) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finished {
		a.finished = true
		close(a.results)
	}
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	if !a.linger {
		a.finish()
	}
	return nil
}

func (a *fakeAdapter) sentImages() []model.CapturedImage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.CapturedImage(nil), a.sent...)
}

// factoryOf returns the adapters in order, one per session.
func factoryOf(adapters ...transport.Adapter) transport.Factory {
	var mu sync.Mutex
	return func(model.TransportMode) (transport.Adapter, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(adapters) == 0 {
			return nil, errors.New("no adapter scripted")
		}
		a := adapters[0]
		adapters = adapters[1:]
		return a, nil
	}
}

func matchResult(id string, confidence float64) transport.Result {
	return transport.Result{
		Candidate:  &model.MatchCandidate{MatchFound: true, Confidence: confidence, MatchedRecordID: id},
		ReceivedAt: time.Now(),
	}
}

type harness struct {
	c      *Controller
	camera *capture.Camera
	events *queue.InMemoryQueue
	dir    *directory.Memory
}

func newHarness(factory transport.Factory, opts ...Option) *harness {
	return buildHarness(harnessDeps{}, factory, opts...)
}

// harnessDeps overrides the collaborators newHarness would pick.
type harnessDeps struct {
	source    capture.Source
	directory outcome.Directory
	wrapSink  func(outcome.Sink) outcome.Sink
}

func buildHarness(deps harnessDeps, factory transport.Factory, opts ...Option) *harness {
	if deps.source == nil {
		deps.source = &fakeSource{}
	}
	h := &harness{
		camera: capture.NewCamera(deps.source),
		events: queue.NewInMemoryQueue(),
		dir:    directory.NewMemory(),
	}
	var dir outcome.Directory = h.dir
	if deps.directory != nil {
		dir = deps.directory
	}
	var sink outcome.Sink = h.events
	if deps.wrapSink != nil {
		sink = deps.wrapSink(sink)
	}
	handler := outcome.New(dir, sink)
	opts = append([]Option{WithFrameInterval(20 * time.Millisecond), WithProgress(10*time.Millisecond, 0.1)}, opts...)
	h.c = New(h.camera, factory, handler, opts...)
	return h
}

// waitStale reports whether at least n stale completions were discarded in time.
func (h *harness) waitStale(n int64) bool {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if h.c.GetStats()["staleDiscarded"].(int64) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// gate blocks callers until opened; entered fires on the first caller.
type gate struct {
	entered chan struct{}
	release chan struct{}
	enter   sync.Once
	opening sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) pass() {
	g.enter.Do(func() { close(g.entered) })
	<-g.release
}

func (g *gate) open() { g.opening.Do(func() { close(g.release) }) }

func (g *gate) waitEntered() bool {
	select {
	case <-g.entered:
		return true
	case <-time.After(waitTimeout):
		return false
	}
}

// slowSource is a camera whose stills land only once its gate opens.
type slowSource struct {
	fakeSource
	gate *gate
}

func (s *slowSource) Capture(ctx context.Context) (model.CapturedImage, error) {
	s.gate.pass()
	return s.fakeSource.Capture(ctx)
}

// slowDirectory answers every lookup once its gate opens.
type slowDirectory struct {
	gate *gate
}

func (d *slowDirectory) Lookup(_ context.Context, recordID string) (model.CaseDetails, error) {
	d.gate.pass()
	return model.CaseDetails{RecordID: recordID, Name: "Late Arrival"}, nil
}

// cancellingSink cancels the caller's context as the event arrives and
// records whether the emit context was still live.
type cancellingSink struct {
	next   outcome.Sink
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error
}

func (s *cancellingSink) Emit(ctx context.Context, ev model.TerminalEvent) error {
	s.cancel()
	s.mu.Lock()
	s.errs = append(s.errs, ctx.Err())
	s.mu.Unlock()
	return s.next.Emit(ctx, ev)
}

func (s *cancellingSink) seen() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (h *harness) waitState(st session.State) types.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := h.c.WaitFor(ctx, func(s types.Snapshot) bool { return s.State == st })
	So(err, ShouldBeNil)
	return snap
}

func (h *harness) nextEvent() model.TerminalEvent {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	select {
	case ev := <-h.events.Dequeue(ctx):
		return ev
	case <-ctx.Done():
		return model.TerminalEvent{}
	}
}

// toPreview takes the session from start to a held image.
func (h *harness) toPreview(ctx context.Context, mode model.TransportMode) {
	So(h.c.StartSession(ctx, mode), ShouldBeNil)
	So(h.c.Capture(ctx), ShouldBeNil)
	h.waitState(session.StatePreview)
}

func TestControllerLifecycle(t *testing.T) {
	Convey("Given a controller that was never started", t, func() {
		h := newHarness(factoryOf())
		Convey("commands fail with ErrNotStarted", func() {
			So(errors.Is(h.c.StartSession(context.Background(), ""), ErrNotStarted), ShouldBeTrue)
		})
		Convey("the snapshot is idle", func() {
			So(h.c.Snapshot().State, ShouldEqual, session.StateIdle)
			So(h.c.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given a started controller", t, func() {
		h := newHarness(factoryOf())
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)

		Convey("Stop cancels the active session and releases the camera", func() {
			So(h.c.StartSession(ctx, model.ModeRequest), ShouldBeNil)
			So(h.camera.Owner(), ShouldNotEqual, model.SessionID(""))
			h.c.Stop()
			snap := h.c.Snapshot()
			So(snap.State, ShouldEqual, session.StateResolved)
			So(snap.CancelReason, ShouldEqual, model.CancelNavigatedAway)
			So(h.camera.Owner(), ShouldEqual, model.SessionID(""))
			So(errors.Is(h.c.Capture(ctx), ErrNotStarted), ShouldBeTrue)
		})

		Convey("commands out of order are rejected", func() {
			defer h.c.Stop()
			So(errors.Is(h.c.Capture(ctx), ErrNoSession), ShouldBeTrue)
			So(h.c.StartSession(ctx, model.ModeRequest), ShouldBeNil)
			So(errors.Is(h.c.Submit(ctx), session.ErrInvalidTransition), ShouldBeTrue)
			So(errors.Is(h.c.Confirm(ctx), session.ErrInvalidTransition), ShouldBeTrue)
			So(errors.Is(h.c.Retry(ctx), ErrNothingToRetry), ShouldBeTrue)
			So(errors.Is(h.c.SetPreviewSize(ctx, 0, 10), ErrInvalidArgument), ShouldBeTrue)
		})
	})
}

func TestRequestSession(t *testing.T) {
	Convey("Given a request transport that finds f1.jpg", t, func() {
		adapter := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{matchResult("f1.jpg", 0.87)}
		})
		h := newHarness(factoryOf(adapter))
		h.dir.Put(model.CaseDetails{RecordID: "f1.jpg", Name: "Jane Doe"})
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		So(h.c.Snapshot().Image.Width, ShouldEqual, 640)
		So(h.c.Submit(ctx), ShouldBeNil)

		snap := h.waitState(session.StateMatchFound)
		So(snap.Outcome.MatchedRecordID, ShouldEqual, "f1.jpg")
		So(snap.Outcome.ConfidenceLabel, ShouldEqual, "87.0%")
		So(snap.Progress, ShouldEqual, 1.0)

		Convey("details arrive after the match surfaces", func() {
			wctx, cancel := context.WithTimeout(ctx, waitTimeout)
			defer cancel()
			snap, err := h.c.WaitFor(wctx, func(s types.Snapshot) bool {
				return s.Outcome != nil && s.Outcome.Details != nil
			})
			So(err, ShouldBeNil)
			So(snap.Outcome.Details.Name, ShouldEqual, "Jane Doe")
		})

		Convey("confirming resolves and emits one event", func() {
			So(h.c.Confirm(ctx), ShouldBeNil)
			snap := h.c.Snapshot()
			So(snap.State, ShouldEqual, session.StateResolved)
			So(snap.Path, ShouldResemble, []session.State{
				session.StateIdle, session.StateCapturing, session.StatePreview,
				session.StateProcessing, session.StateMatchFound, session.StateResolved,
			})
			So(snap.Event, ShouldNotBeNil)

			ev := h.nextEvent()
			So(ev.MatchedRecordID, ShouldEqual, "f1.jpg")
			So(ev.Decision, ShouldEqual, model.DecisionConfirmed)
			So(ev.SessionID, ShouldEqual, snap.SessionID)
			So(h.events.Len(ctx), ShouldEqual, 0)

			So(h.camera.Owner(), ShouldEqual, model.SessionID(""))
			So(len(adapter.sentImages()), ShouldEqual, 1)
			So(errors.Is(h.c.Reject(ctx), session.ErrResolved), ShouldBeTrue)
		})

		Convey("rejecting emits a rejected event", func() {
			So(h.c.Reject(ctx), ShouldBeNil)
			So(h.nextEvent().Decision, ShouldEqual, model.DecisionRejected)
		})
	})

	Convey("Given a request transport that finds nothing", t, func() {
		adapter := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{{
				Candidate: &model.MatchCandidate{ServerMessage: "No face detected in image"},
			}}
		})
		h := newHarness(factoryOf(adapter))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		So(h.c.Submit(ctx), ShouldBeNil)
		snap := h.waitState(session.StateNoMatch)
		So(snap.Guidance, ShouldEqual, model.GuidanceRetake)
		So(snap.Outcome.Message, ShouldEqual, "No face detected in image")

		Convey("dismissing emits a no_match event", func() {
			So(h.c.Dismiss(ctx), ShouldBeNil)
			So(h.c.Snapshot().State, ShouldEqual, session.StateResolved)
			ev := h.nextEvent()
			So(ev.Decision, ShouldEqual, model.DecisionNoMatch)
			So(ev.MatchedRecordID, ShouldEqual, "")
		})
	})

	Convey("Given a held image", t, func() {
		h := newHarness(factoryOf())
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()
		h.toPreview(ctx, model.ModeRequest)

		Convey("retake drops it and allows a new capture", func() {
			So(h.c.Retake(ctx), ShouldBeNil)
			snap := h.c.Snapshot()
			So(snap.State, ShouldEqual, session.StateCapturing)
			So(snap.Image, ShouldBeNil)
			So(h.c.Capture(ctx), ShouldBeNil)
			snap = h.waitState(session.StatePreview)
			So(snap.Image.PreviewRef, ShouldEqual, "frame-2")
		})
	})
}

func TestRequestTimeout(t *testing.T) {
	Convey("Given a match service slower than the request timeout", t, func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)

		factory := transport.NewFactory(transport.Config{BaseURL: srv.URL, RequestTimeout: 150 * time.Millisecond})
		h := newHarness(factory)
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		start := time.Now()
		So(h.c.Submit(ctx), ShouldBeNil)

		snap := h.waitState(session.StateResolved)
		So(time.Since(start), ShouldBeLessThan, 2*time.Second)
		So(snap.CancelReason, ShouldEqual, model.CancelTimeout)
		So(snap.ErrorClass, ShouldEqual, "timeout")
		So(snap.Guidance, ShouldEqual, model.GuidanceRetry)
		So(snap.CanRetry, ShouldBeTrue)
		So(h.camera.Owner(), ShouldEqual, model.SessionID(""))
		So(h.events.Len(ctx), ShouldEqual, 0)
	})
}

func TestRetry(t *testing.T) {
	Convey("Given a first attempt that cannot reach the match service", t, func() {
		failing := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{{Err: transport.NewKind("request.send", transport.ErrConnect)}}
		})
		succeeding := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{matchResult("f2.jpg", 0.9)}
		})
		h := newHarness(factoryOf(failing, succeeding))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		So(h.c.Submit(ctx), ShouldBeNil)
		first := h.waitState(session.StateResolved)
		So(first.CancelReason, ShouldEqual, model.CancelTransport)
		So(first.ErrorClass, ShouldEqual, "connect")

		Convey("retry resubmits the same image in a new session", func() {
			So(h.c.Retry(ctx), ShouldBeNil)
			snap := h.waitState(session.StateMatchFound)
			So(snap.SessionID, ShouldNotEqual, first.SessionID)
			So(snap.Outcome.MatchedRecordID, ShouldEqual, "f2.jpg")
			So(succeeding.sentImages()[0].PreviewRef, ShouldEqual, failing.sentImages()[0].PreviewRef)
		})
	})
}

func TestStreamingSession(t *testing.T) {
	box := &model.DetectionBox{X: 100, Y: 50, Width: 200, Height: 100}

	Convey("Given a stream that reports the same match repeatedly", t, func() {
		adapter := newFakeAdapter(model.ModeStreaming, func(n int) []transport.Result {
			if n == 1 {
				return []transport.Result{
					{FaceDetected: true, Detection: box},
					matchResult("f1.jpg", 0.8),
					matchResult("f1.jpg", 0.8),
					matchResult("f1.jpg", 0.8),
				}
			}
			return nil
		})
		h := newHarness(factoryOf(adapter))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()
		So(h.c.SetPreviewSize(ctx, 320, 240), ShouldBeNil)

		h.toPreview(ctx, model.ModeStreaming)
		So(h.c.Submit(ctx), ShouldBeNil)
		snap := h.waitState(session.StateMatchFound)

		Convey("one match surfaces and the overlay is scaled to the preview", func() {
			So(snap.SeenMatches, ShouldResemble, []string{"f1.jpg"})
			So(snap.Overlay, ShouldResemble, &model.OverlayBox{Top: 25, Left: 50, Width: 100, Height: 50})

			So(h.c.Reject(ctx), ShouldBeNil)
			So(h.nextEvent().Decision, ShouldEqual, model.DecisionRejected)
			So(h.events.Len(ctx), ShouldEqual, 0)
		})
	})

	Convey("Given a stream with no match", t, func() {
		adapter := newFakeAdapter(model.ModeStreaming, func(int) []transport.Result {
			return []transport.Result{
				{FaceDetected: false},
				{Err: transport.NewKind("stream.read", transport.ErrProtocol)},
			}
		})
		h := newHarness(factoryOf(adapter))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeStreaming)
		So(h.c.Submit(ctx), ShouldBeNil)

		Convey("frames keep flowing and malformed messages are not fatal", func() {
			wctx, cancel := context.WithTimeout(ctx, waitTimeout)
			defer cancel()
			for len(adapter.sentImages()) < 3 {
				select {
				case <-wctx.Done():
					t.Fatal("streaming frames not sent")
				case <-time.After(10 * time.Millisecond):
				}
			}
			snap, err := h.c.WaitFor(wctx, func(s types.Snapshot) bool { return s.LastFrameAt != nil })
			So(err, ShouldBeNil)
			So(snap.State, ShouldEqual, session.StateProcessing)
			So(snap.Progress, ShouldBeLessThanOrEqualTo, 0.95)
		})

		Convey("stop yields no match and dismiss resolves it", func() {
			So(h.c.StopScan(ctx), ShouldBeNil)
			So(h.c.Snapshot().State, ShouldEqual, session.StateNoMatch)
			So(h.c.Dismiss(ctx), ShouldBeNil)
			So(h.nextEvent().Decision, ShouldEqual, model.DecisionNoMatch)
		})

		Convey("the server ending the stream returns the session to idle", func() {
			adapter.finish()
			snap := h.waitState(session.StateIdle)
			So(snap.ErrorClass, ShouldEqual, "closed")
			So(snap.CanRetry, ShouldBeTrue)
			So(h.camera.Owner(), ShouldEqual, model.SessionID(""))
		})

		Convey("cancel releases the camera and emits nothing", func() {
			So(h.c.Cancel(ctx, ""), ShouldBeNil)
			snap := h.c.Snapshot()
			So(snap.State, ShouldEqual, session.StateResolved)
			So(snap.CancelReason, ShouldEqual, model.CancelByOperator)
			So(h.camera.Owner(), ShouldEqual, model.SessionID(""))
			So(h.events.Len(ctx), ShouldEqual, 0)
		})
	})

	Convey("Given a match whose case details cannot be fetched", t, func() {
		adapter := newFakeAdapter(model.ModeStreaming, func(n int) []transport.Result {
			if n == 1 {
				return []transport.Result{matchResult("unknown.jpg", 0.7)}
			}
			return nil
		})
		h := newHarness(factoryOf(adapter), WithCaptureOnMatch(true))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeStreaming)
		So(h.c.Submit(ctx), ShouldBeNil)
		h.waitState(session.StateMatchFound)

		wctx, cancel := context.WithTimeout(ctx, waitTimeout)
		defer cancel()
		snap, err := h.c.WaitFor(wctx, func(s types.Snapshot) bool {
			return s.Outcome != nil && s.Outcome.DetailsError != "" && s.Outcome.LiveCapture != nil
		})
		So(err, ShouldBeNil)
		So(snap.State, ShouldEqual, session.StateMatchFound)
		So(snap.Outcome.MatchedRecordID, ShouldEqual, "unknown.jpg")

		Convey("the operator can still decide", func() {
			So(h.c.RefreshDetails(ctx), ShouldBeNil)
			So(h.c.Confirm(ctx), ShouldBeNil)
			So(h.nextEvent().MatchedRecordID, ShouldEqual, "unknown.jpg")
		})
	})
}

func TestOverlappingSessions(t *testing.T) {
	Convey("Given a streaming session whose transport lingers after close", t, func() {
		old := newFakeAdapter(model.ModeStreaming, nil)
		old.linger = true
		fresh := newFakeAdapter(model.ModeStreaming, nil)
		h := newHarness(factoryOf(old, fresh))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeStreaming)
		So(h.c.Submit(ctx), ShouldBeNil)
		first := h.waitState(session.StateProcessing)

		Convey("a new session supersedes it and its late result is discarded", func() {
			So(h.c.StartSession(ctx, model.ModeStreaming), ShouldBeNil)
			second := h.c.Snapshot()
			So(second.SessionID, ShouldNotEqual, first.SessionID)
			So(second.State, ShouldEqual, session.StateCapturing)

			old.push(matchResult("late.jpg", 0.99))
			old.finish()

			So(h.waitStale(1), ShouldBeTrue)
			snap := h.c.Snapshot()
			So(snap.SessionID, ShouldEqual, second.SessionID)
			So(snap.State, ShouldEqual, session.StateCapturing)
			So(snap.Outcome, ShouldBeNil)
			So(h.camera.Owner(), ShouldEqual, second.SessionID)
			So(h.events.Len(ctx), ShouldEqual, 0)
		})
	})
}

func TestSupersededCompletions(t *testing.T) {
	Convey("Given a session whose still is slow to land", t, func() {
		g := newGate()
		defer g.open()
		h := buildHarness(harnessDeps{source: &slowSource{gate: g}}, factoryOf())
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		So(h.c.StartSession(ctx, model.ModeRequest), ShouldBeNil)
		first := h.c.Snapshot().SessionID
		So(h.c.Capture(ctx), ShouldBeNil)
		So(g.waitEntered(), ShouldBeTrue)

		Convey("a new session ignores the old still when it finally arrives", func() {
			So(h.c.StartSession(ctx, model.ModeRequest), ShouldBeNil)
			second := h.c.Snapshot().SessionID
			So(second, ShouldNotEqual, first)

			g.open()
			So(h.waitStale(1), ShouldBeTrue)

			snap := h.c.Snapshot()
			So(snap.SessionID, ShouldEqual, second)
			So(snap.State, ShouldEqual, session.StateCapturing)
			So(snap.Image, ShouldBeNil)
			So(snap.Path, ShouldResemble, []session.State{session.StateIdle, session.StateCapturing})
			So(h.camera.Owner(), ShouldEqual, second)
		})
	})

	Convey("Given a surfaced match whose case lookup is slow", t, func() {
		g := newGate()
		defer g.open()
		adapter := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{matchResult("a.jpg", 0.91)}
		})
		h := buildHarness(harnessDeps{directory: &slowDirectory{gate: g}}, factoryOf(adapter))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		So(h.c.Submit(ctx), ShouldBeNil)
		first := h.waitState(session.StateMatchFound)
		So(g.waitEntered(), ShouldBeTrue)

		Convey("the superseding session never shows the old case details", func() {
			So(h.c.StartSession(ctx, model.ModeRequest), ShouldBeNil)
			second := h.c.Snapshot()
			So(second.SessionID, ShouldNotEqual, first.SessionID)

			g.open()
			So(h.waitStale(1), ShouldBeTrue)

			snap := h.c.Snapshot()
			So(snap.SessionID, ShouldEqual, second.SessionID)
			So(snap.State, ShouldEqual, session.StateCapturing)
			So(snap.Outcome, ShouldBeNil)
			So(snap.Busy, ShouldBeFalse)
			So(h.events.Len(ctx), ShouldEqual, 0)
		})
	})
}

func TestDecisionOutlivesCaller(t *testing.T) {
	Convey("Given a match confirmed by a caller that goes away mid-command", t, func() {
		reqCtx, cancelReq := context.WithCancel(context.Background())
		defer cancelReq()
		var sink *cancellingSink
		wrap := func(next outcome.Sink) outcome.Sink {
			sink = &cancellingSink{next: next, cancel: cancelReq}
			return sink
		}
		adapter := newFakeAdapter(model.ModeRequest, func(int) []transport.Result {
			return []transport.Result{matchResult("f1.jpg", 0.87)}
		})
		h := buildHarness(harnessDeps{wrapSink: wrap}, factoryOf(adapter))
		ctx := context.Background()
		So(h.c.Start(ctx), ShouldBeNil)
		defer h.c.Stop()

		h.toPreview(ctx, model.ModeRequest)
		So(h.c.Submit(ctx), ShouldBeNil)
		h.waitState(session.StateMatchFound)

		_ = h.c.Confirm(reqCtx)

		Convey("the terminal event is still queued", func() {
			h.waitState(session.StateResolved)
			So(sink.seen(), ShouldResemble, []error{nil})
			ev := h.nextEvent()
			So(ev.Decision, ShouldEqual, model.DecisionConfirmed)
			So(ev.MatchedRecordID, ShouldEqual, "f1.jpg")
		})
	})
}
