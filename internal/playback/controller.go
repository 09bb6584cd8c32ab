package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandleState is the lifecycle state of one playback.
type HandleState int

const (
	StatePlaying HandleState = iota
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the lowercase state name, used for logs and metrics labels.
func (s HandleState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is one piece of synthesized PCM audio. A mid-stream read or decode
// failure travels as a chunk with Err set, followed by channel close.
type Chunk struct {
	Data []byte
	Err  error
}

// Synthesizer converts text into a stream of PCM audio chunks. The channel is
// closed when synthesis finishes; an error return means no audio was produced
// and the caller may try another path.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (<-chan Chunk, error)
}

// AudioSink consumes synthesized audio, e.g. a WebSocket writer toward the
// client. Write errors abort the playback.
type AudioSink interface {
	WriteAudio(pcm []byte) error
}

// Handle represents one in-flight synthesized-audio playback.
type Handle struct {
	StartedAt  time.Time
	SourceText string

	mu     sync.Mutex
	state  HandleState
	cancel context.CancelFunc
}

// State returns the handle's current state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Cancel aborts the playback and synchronously releases the underlying
// synthesis stream. Safe to call repeatedly and after natural completion;
// once the handle has reached a terminal state this is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.state != StatePlaying {
		h.mu.Unlock()
		return
	}
	h.state = StateCancelled
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// finish moves a still-playing handle into a terminal state. Returns false
// when the handle already reached one (e.g. it was cancelled mid-stream).
func (h *Handle) finish(state HandleState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePlaying {
		return false
	}
	h.state = state
	return true
}

// DoneFunc is invoked exactly once when a handle reaches a terminal state.
// err is non-nil only for StateFailed.
type DoneFunc func(h *Handle, state HandleState, err error)

// Controller manages at most one in-flight playback. Starting a new playback
// implicitly cancels and discards the previous one.
type Controller struct {
	primary  Synthesizer
	fallback Synthesizer
	sink     AudioSink
	logger   zerolog.Logger
	onDone   DoneFunc

	mu      sync.Mutex
	current *Handle
}

// NewController creates a playback controller. fallback may be nil, in which
// case a primary synthesis failure resolves the handle as failed directly.
func NewController(primary, fallback Synthesizer, sink AudioSink, logger zerolog.Logger, onDone DoneFunc) *Controller {
	return &Controller{
		primary:  primary,
		fallback: fallback,
		sink:     sink,
		logger:   logger,
		onDone:   onDone,
	}
}

// Play begins synthesizing and playing the given text, cancelling any
// playback already in flight. The previous handle is cancelled before the
// new one exists, so at most one handle is ever in the playing state.
func (c *Controller) Play(text string) *Handle {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		StartedAt:  time.Now(),
		SourceText: text,
		state:      StatePlaying,
		cancel:     cancel,
	}

	c.mu.Lock()
	c.current = h
	c.mu.Unlock()

	go c.run(ctx, h, text)
	return h
}

// CancelCurrent cancels the in-flight playback, if any.
func (c *Controller) CancelCurrent() {
	c.mu.Lock()
	h := c.current
	c.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Current returns the most recently started handle, or nil.
func (c *Controller) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) run(ctx context.Context, h *Handle, text string) {
	wrote, err := c.stream(ctx, c.primary, h, text)
	// Once audio has reached the sink, switching paths would replay the
	// reply from the start; fail instead of falling back.
	if err != nil && !wrote && ctx.Err() == nil && c.fallback != nil {
		c.logger.Warn().Err(err).
			Str("synthesizer", c.primary.Name()).
			Msg("Primary synthesis failed, trying fallback")
		_, err = c.stream(ctx, c.fallback, h, text)
	}

	var state HandleState
	switch {
	case ctx.Err() != nil:
		state = StateCancelled
	case err != nil:
		state = StateFailed
	default:
		state = StateCompleted
	}

	finished := h.finish(state)
	if !finished {
		// Cancel won the race; report the state the handle settled on.
		state = h.State()
		err = nil
	}

	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()

	if c.onDone != nil {
		c.onDone(h, state, err)
	}
}

// stream runs one synthesis path to completion, writing audio to the sink.
// The bool reports whether any audio was written before the error.
func (c *Controller) stream(ctx context.Context, synth Synthesizer, h *Handle, text string) (bool, error) {
	chunks, err := synth.Synthesize(ctx, text)
	if err != nil {
		return false, fmt.Errorf("%s synthesis: %w", synth.Name(), err)
	}

	wrote := false
	for {
		select {
		case <-ctx.Done():
			// Drain so the synthesizer goroutine can exit.
			go func() {
				for range chunks {
				}
			}()
			return wrote, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return wrote, nil
			}
			if chunk.Err != nil {
				return wrote, fmt.Errorf("%s synthesis stream: %w", synth.Name(), chunk.Err)
			}
			if len(chunk.Data) == 0 {
				continue
			}
			if c.sink != nil {
				if werr := c.sink.WriteAudio(chunk.Data); werr != nil {
					return wrote, fmt.Errorf("%s playback write: %w", synth.Name(), werr)
				}
			}
			wrote = true
		}
	}
}
