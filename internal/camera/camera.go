// Package camera feeds frames from a live RTSP camera into one session.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/posetrack/internal/gstream"
	"github.com/care/posetrack/internal/types"
)

// FrameSink receives camera frames. It may block; the camera drops frames
// that arrive meanwhile.
type FrameSink func(ctx context.Context, frame types.Frame) error

// Config contains live camera settings
type Config struct {
	URL       string
	Width     int
	Height    int
	FPS       float64
	Reconnect ReconnectConfig
}

// Camera runs the RTSP pipeline with automatic reconnection
type Camera struct {
	cfg  Config
	sink FrameSink

	frames chan types.Frame

	mu       sync.Mutex
	elements *pipelineElements
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  time.Time

	reconnect reconnectState
	connected atomic.Bool

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
	sinkErrors    atomic.Uint64

	errorsNetwork atomic.Uint64
	errorsCodec   atomic.Uint64
	errorsAuth    atomic.Uint64
	errorsUnknown atomic.Uint64
}

// New validates cfg and creates a stopped camera
func New(cfg Config, sink FrameSink) (*Camera, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("camera: RTSP URL is required")
	}
	if cfg.FPS < 0.1 || cfg.FPS > 30 {
		return nil, fmt.Errorf("camera: invalid FPS %.2f (must be 0.1-30)", cfg.FPS)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if sink == nil {
		return nil, fmt.Errorf("camera: frame sink is required")
	}

	def := DefaultReconnectConfig()
	if cfg.Reconnect.MaxRetries <= 0 {
		cfg.Reconnect.MaxRetries = def.MaxRetries
	}
	if cfg.Reconnect.RetryDelay <= 0 {
		cfg.Reconnect.RetryDelay = def.RetryDelay
	}
	if cfg.Reconnect.MaxRetryDelay <= 0 {
		cfg.Reconnect.MaxRetryDelay = def.MaxRetryDelay
	}

	return &Camera{
		cfg:    cfg,
		sink:   sink,
		frames: make(chan types.Frame, 1),
	}, nil
}

// Start launches the capture loop and the forwarder. Returns immediately;
// connection failures are retried in the background.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("camera: already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.started = time.Now()

	slog.Info("camera: starting",
		"url", c.cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"target_fps", c.cfg.FPS,
	)

	c.wg.Add(2)
	go c.forward(ctx)
	go c.run(ctx)

	return nil
}

func (c *Camera) run(ctx context.Context) {
	defer c.wg.Done()

	err := runWithReconnect(ctx, c.connect, c.cfg.Reconnect, &c.reconnect)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("camera: capture stopped after reconnection failure",
			"error", err,
			"url", c.cfg.URL,
			"uptime", time.Since(c.started),
			"frames_captured", c.frameCount.Load(),
			"reconnects", c.reconnect.reconnects.Load(),
		)
	}
}

// connect builds a fresh pipeline, plays it and monitors its bus until an
// error or EOS (returned) or cancellation (nil).
func (c *Camera) connect(ctx context.Context) error {
	elements, err := createPipeline(c.cfg)
	if err != nil {
		return err
	}

	elements.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink)
		},
	})

	c.mu.Lock()
	c.elements = elements
	c.mu.Unlock()

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		if err := destroyPipeline(c.elements); err != nil {
			slog.Error("camera: failed to destroy pipeline", "error", err)
		}
		c.elements = nil
		c.mu.Unlock()
	}()

	if err := elements.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	return c.monitor(ctx, elements.pipeline)
}

func (c *Camera) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("camera: end of stream received",
				"url", c.cfg.URL,
				"frames_captured", c.frameCount.Load(),
			)
			return gstream.ErrEOS

		case gst.MessageError:
			gerr := msg.ParseError()
			category := gstream.Classify(gerr)
			c.countError(category)

			slog.Error("camera: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"url", c.cfg.URL,
				"uptime", time.Since(c.started),
				"frames_captured", c.frameCount.Load(),
				"reconnects", c.reconnect.reconnects.Load(),
			)
			return &gstream.PipelineError{Category: category, Message: gerr.Error(), Debug: gerr.DebugString()}

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("camera: pipeline state changed", "from", old, "to", next)
				if next == gst.StatePlaying {
					c.connected.Store(true)
					c.reconnect.reset()
					slog.Info("camera: pipeline playing, reconnect state reset")
				}
			}
		}
	}
}

func (c *Camera) countError(category gstream.ErrorCategory) {
	switch category {
	case gstream.ErrCategoryNetwork, gstream.ErrCategoryNotFound:
		c.errorsNetwork.Add(1)
	case gstream.ErrCategoryCodec:
		c.errorsCodec.Add(1)
	case gstream.ErrCategoryAuth:
		c.errorsAuth.Add(1)
	default:
		c.errorsUnknown.Add(1)
	}
}

// onNewSample runs on a GStreamer streaming thread. A single bad sample is
// skipped rather than ending the stream.
func (c *Camera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample, err := gstream.PullRGB(sink)
	if err != nil {
		if !errors.Is(err, gstream.ErrNoSample) {
			slog.Warn("camera: skipping unreadable sample", "error", err)
		}
		return gst.FlowOK
	}

	seq := c.frameCount.Add(1)
	c.bytesRead.Add(uint64(sample.Bytes))

	frame := types.Frame{
		Index:     int(seq - 1),
		Timestamp: time.Now(),
		Image:     sample.Image,
		TraceID:   uuid.New().String(),
	}

	select {
	case c.frames <- frame:
	default:
		c.framesDropped.Add(1)
		slog.Debug("camera: dropping frame, session busy",
			"seq", seq,
			"trace_id", frame.TraceID,
		)
	}
	return gst.FlowOK
}

// forward hands frames to the sink one at a time
func (c *Camera) forward(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.frames:
			if err := c.sink(ctx, frame); err != nil {
				c.sinkErrors.Add(1)
				if ctx.Err() != nil {
					return
				}
				slog.Warn("camera: frame not accepted",
					"trace_id", frame.TraceID,
					"error", err,
				)
			}
		}
	}
}

// Stop cancels capture and waits for the goroutines (up to 3s)
func (c *Camera) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("camera: stop timeout exceeded, some goroutines may still be running")
	}

	slog.Info("camera: stopped",
		"frames_captured", c.frameCount.Load(),
		"frames_dropped", c.framesDropped.Load(),
		"reconnects", c.reconnect.reconnects.Load(),
		"uptime", time.Since(c.started),
	)
}

// Stats returns capture statistics
func (c *Camera) Stats() types.StreamStats {
	return types.StreamStats{
		FrameCount:    c.frameCount.Load(),
		FramesDropped: c.framesDropped.Load(),
		FPSTarget:     c.cfg.FPS,
		Resolution:    fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		Reconnects:    c.reconnect.reconnects.Load(),
		BytesRead:     c.bytesRead.Load(),
		IsConnected:   c.connected.Load(),
		ErrorsNetwork: c.errorsNetwork.Load(),
		ErrorsCodec:   c.errorsCodec.Load(),
		ErrorsAuth:    c.errorsAuth.Load(),
		ErrorsUnknown: c.errorsUnknown.Load(),
	}
}
