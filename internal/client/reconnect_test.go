package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deskpilot/internal/wire"
)

type fakeFrame struct {
	binary bool
	data   []byte
	err    error
}

// fakeConn replays a fixed script of frames, then returns its terminal error.
type fakeConn struct {
	mu      sync.Mutex
	frames  []fakeFrame
	final   error
	written [][]byte
}

func (c *fakeConn) Read(ctx context.Context) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return false, nil, c.final
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f.binary, f.data, f.err
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i >= len(d.conns) {
		return nil, errors.New("no more scripted connections")
	}
	return d.conns[i], nil
}

type recordingHandler struct {
	mu       sync.Mutex
	statuses []wire.Status
	images   [][]byte
}

func (h *recordingHandler) OnStatus(st *wire.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, *st)
}

func (h *recordingHandler) OnScreenshot(_ *wire.ScreenshotHeader, image []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.images = append(h.images, image)
}

func statusFrame(message string) fakeFrame {
	return fakeFrame{data: wire.EncodeStatus(wire.StatusSuccess, message, 1)}
}

func testCommand() wire.Command {
	return wire.Command{Message: "hello", IsNewPrompt: true, PromptID: 1}
}

func newTestReconnector(d Dialer, h Handler, maxRetries int) *Reconnector {
	return NewReconnector(ReconnectorConfig{
		Dialer:     d,
		URL:        "ws://test/ws",
		RetryDelay: time.Millisecond,
		MaxRetries: maxRetries,
		Handler:    h,
	})
}

func TestRunEndsCleanlyOnNormalClosure(t *testing.T) {
	conn := &fakeConn{
		frames: []fakeFrame{
			statusFrame(wire.MsgOpeningTarget),
			statusFrame(wire.MsgExecuted),
		},
		final: ErrClosed,
	}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	handler := &recordingHandler{}

	r := newTestReconnector(dialer, handler, 3)
	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(handler.statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(handler.statuses))
	}
	if handler.statuses[0].Message != wire.MsgOpeningTarget {
		t.Errorf("first status = %q", handler.statuses[0].Message)
	}
}

func TestRunResendsCommandOnReconnect(t *testing.T) {
	first := &fakeConn{
		frames: []fakeFrame{statusFrame(wire.MsgOpeningTarget)},
		final:  errors.New("connection reset"),
	}
	second := &fakeConn{final: ErrClosed}
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	r := newTestReconnector(dialer, &recordingHandler{}, 3)
	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dialer.dials != 2 {
		t.Fatalf("dials = %d, want 2", dialer.dials)
	}
	for i, conn := range []*fakeConn{first, second} {
		if len(conn.written) != 1 {
			t.Fatalf("conn %d: %d writes, want 1 (command registration)", i, len(conn.written))
		}
		in, err := wire.ParseInbound(conn.written[0])
		if err != nil {
			t.Fatalf("conn %d wrote invalid frame: %v", i, err)
		}
		if in.Type != wire.TypeCommand || in.PromptID != 1 || !in.IsNewPrompt {
			t.Errorf("conn %d registered %+v", i, in)
		}
	}
}

func TestFollowUpReconnectRegistersInResumeForm(t *testing.T) {
	// A follow-up is submitted with IsNewPrompt false, but re-sending that
	// shape after a drop would make the server type the follow-up text
	// again. Re-registration must take the resume shape instead.
	first := &fakeConn{
		frames: []fakeFrame{statusFrame(wire.MsgExecuted)},
		final:  errors.New("connection reset"),
	}
	second := &fakeConn{final: ErrClosed}
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	r := newTestReconnector(dialer, &recordingHandler{}, 3)
	cmd := wire.Command{Message: "and also add tests", IsNewPrompt: false, PromptID: 9}
	if err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run: %v", err)
	}

	in, err := wire.ParseInbound(first.written[0])
	if err != nil {
		t.Fatal(err)
	}
	if in.IsNewPrompt {
		t.Error("initial registration must keep the follow-up shape")
	}
	in, err = wire.ParseInbound(second.written[0])
	if err != nil {
		t.Fatal(err)
	}
	if !in.IsNewPrompt || in.PromptID != 9 {
		t.Errorf("re-registration = isNewPrompt %v promptId %d, want resume form for prompt 9", in.IsNewPrompt, in.PromptID)
	}
}

func TestAcceptConcurrentWithReconnect(t *testing.T) {
	// Accept is called from another goroutine in practice (a UI or stdin
	// reader) while Run is swapping connections underneath it.
	drop := errors.New("connection reset")
	dialer := &fakeDialer{conns: []*fakeConn{
		{frames: []fakeFrame{statusFrame(wire.MsgExecuted)}, final: drop},
		{frames: []fakeFrame{statusFrame(wire.MsgExecuted)}, final: drop},
		{frames: []fakeFrame{statusFrame(wire.MsgExecuted)}, final: drop},
		{final: ErrClosed},
	}}

	r := newTestReconnector(dialer, &recordingHandler{}, 2)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Errors are expected between connections; the point is that
			// concurrent calls never race with the reconnect loop.
			r.Accept(context.Background())
		}
	}()

	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(stop)
	<-done
}

func TestRunExhaustsRetries(t *testing.T) {
	dialer := &fakeDialer{errs: []error{
		errors.New("refused"),
		errors.New("refused"),
		errors.New("refused"),
	}}

	r := newTestReconnector(dialer, &recordingHandler{}, 2)
	err := r.Run(context.Background(), testCommand())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if dialer.dials != 3 {
		t.Errorf("dials = %d, want 3 (initial + 2 retries)", dialer.dials)
	}
}

func TestRetryCounterResetsAfterFrame(t *testing.T) {
	// Each connection delivers one frame before dropping. With a retry cap
	// of 1, the run survives all three drops because every received frame
	// clears the consecutive-failure count.
	drop := errors.New("connection reset")
	dialer := &fakeDialer{conns: []*fakeConn{
		{frames: []fakeFrame{statusFrame(wire.MsgOpeningTarget)}, final: drop},
		{frames: []fakeFrame{statusFrame(wire.MsgTyping)}, final: drop},
		{frames: []fakeFrame{statusFrame(wire.MsgExecuted)}, final: drop},
		{final: ErrClosed},
	}}

	r := newTestReconnector(dialer, &recordingHandler{}, 1)
	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dialer.dials != 4 {
		t.Errorf("dials = %d, want 4", dialer.dials)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("refused")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestReconnector(dialer, &recordingHandler{}, 100)
	err := r.Run(ctx, testCommand())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestScreenshotFramesReachHandler(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	conn := &fakeConn{
		frames: []fakeFrame{
			{binary: true, data: wire.EncodeScreenshot(1700000000000, payload)},
		},
		final: ErrClosed,
	}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	handler := &recordingHandler{}

	r := newTestReconnector(dialer, handler, 1)
	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(handler.images) != 1 {
		t.Fatalf("got %d images, want 1", len(handler.images))
	}
	if string(handler.images[0]) != string(payload) {
		t.Errorf("image payload = % x", handler.images[0])
	}
}

func TestUndecodableFramesAreSkipped(t *testing.T) {
	conn := &fakeConn{
		frames: []fakeFrame{
			{binary: true, data: []byte{0x00}},
			{data: []byte("not json")},
			statusFrame(wire.MsgExecuted),
		},
		final: ErrClosed,
	}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	handler := &recordingHandler{}

	r := newTestReconnector(dialer, handler, 1)
	if err := r.Run(context.Background(), testCommand()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(handler.statuses) != 1 || len(handler.images) != 0 {
		t.Fatalf("got %d statuses %d images, want 1 and 0", len(handler.statuses), len(handler.images))
	}
}
