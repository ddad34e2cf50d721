package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"deskpilot/internal/wire"
)

// ErrRetriesExhausted is returned once every reconnect attempt has failed.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

const (
	DefaultRetryDelay = 2 * time.Second
	DefaultMaxRetries = 5
)

// Handler receives reassembled frames from a Reconnector.
type Handler interface {
	OnStatus(st *wire.Status)
	OnScreenshot(header *wire.ScreenshotHeader, image []byte)
}

// Reconnector maintains a connection to the server across drops. Abnormal
// closures are retried after a fixed delay up to a retry cap; a normal
// closure ends the run cleanly. After each reconnect the command is
// re-registered in resume form so the server re-attaches the capture stream
// without replaying keystrokes.
type Reconnector struct {
	dialer     Dialer
	url        string
	retryDelay time.Duration
	maxRetries int
	handler    Handler

	// connMu guards conn: Run's loop swaps it on every reconnect while
	// Accept may write to it from another goroutine.
	connMu sync.Mutex
	conn   Conn
}

type ReconnectorConfig struct {
	Dialer     Dialer
	URL        string
	RetryDelay time.Duration // 0 means DefaultRetryDelay
	MaxRetries int           // 0 means DefaultMaxRetries
	Handler    Handler
}

func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{}
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Reconnector{
		dialer:     cfg.Dialer,
		url:        cfg.URL,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
		handler:    cfg.Handler,
	}
}

// Run dials the server, registers the command, and dispatches frames to the
// handler until the server closes normally, the context is cancelled, or
// the retry cap is hit. The retry counter resets after every successfully
// received frame, so only consecutive failures count against the cap.
//
// Once the command has been registered, every re-registration is sent in
// resume form (same prompt id, IsNewPrompt set) regardless of how it was
// first submitted. The server resumes only on that shape; re-sending a
// follow-up verbatim would type its text into the desktop a second time.
func (r *Reconnector) Run(ctx context.Context, cmd wire.Command) error {
	retries := 0
	registered := false
	for {
		send := cmd
		if registered {
			send.IsNewPrompt = true
		}
		conn, err := r.connect(ctx, send)
		if err != nil {
			retries++
			if retries > r.maxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, retries, err)
			}
			log.Printf("client: connect failed (attempt %d/%d): %v", retries, r.maxRetries, err)
			if err := r.wait(ctx); err != nil {
				return err
			}
			continue
		}
		registered = true

		err = r.readLoop(ctx, conn, &retries)
		r.closeConn()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}

		retries++
		if retries > r.maxRetries {
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, retries, err)
		}
		log.Printf("client: connection lost (attempt %d/%d): %v", retries, r.maxRetries, err)
		if err := r.wait(ctx); err != nil {
			return err
		}
	}
}

// Accept sends the accept message over the current connection.
func (r *Reconnector) Accept(ctx context.Context) error {
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.Write(ctx, wire.EncodeAccept())
}

func (r *Reconnector) connect(ctx context.Context, cmd wire.Command) (Conn, error) {
	conn, err := r.dialer.Dial(ctx, r.url)
	if err != nil {
		return nil, err
	}
	data := wire.EncodeCommand(cmd.Message, cmd.IsNewPrompt, cmd.PromptID)
	if err := conn.Write(ctx, data); err != nil {
		conn.Close()
		return nil, err
	}
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	return conn, nil
}

func (r *Reconnector) readLoop(ctx context.Context, conn Conn, retries *int) error {
	for {
		binary, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		*retries = 0
		if binary {
			header, image, err := wire.DecodeBinary(data)
			if err != nil {
				log.Printf("client: dropping undecodable binary frame: %v", err)
				continue
			}
			if r.handler != nil {
				r.handler.OnScreenshot(header, image)
			}
			continue
		}
		st, err := wire.DecodeStatus(data)
		if err != nil {
			log.Printf("client: dropping undecodable status frame: %v", err)
			continue
		}
		if r.handler != nil {
			r.handler.OnStatus(st)
		}
	}
}

func (r *Reconnector) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.retryDelay):
		return nil
	}
}

func (r *Reconnector) closeConn() {
	r.connMu.Lock()
	conn := r.conn
	r.conn = nil
	r.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
