package driver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/claude-collab/backend/internal/model"
)

// ReplayDriver plays back a recorded Claude Code stream-json transcript.
// It is used for demos and UI development without spending tokens.
// Permission requests in the transcript are routed to Options.CanUseTool;
// the decision is not fed back, the transcript continues either way.
type ReplayDriver struct {
	path   string
	delay  time.Duration
	logger *slog.Logger
}

// NewReplayDriver creates a driver replaying the transcript at path, pausing
// delay between lines. A nil logger uses slog.Default.
func NewReplayDriver(path string, delay time.Duration, logger *slog.Logger) *ReplayDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayDriver{
		path:   path,
		delay:  delay,
		logger: logger.With("component", "driver", "driver", "replay"),
	}
}

// Name returns the name of the driver.
func (d *ReplayDriver) Name() string {
	return "replay"
}

// Invoke opens the transcript and streams its events. The prompt is ignored.
func (d *ReplayDriver) Invoke(ctx context.Context, prompt string, opts Options) (Stream, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAgentUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	items := make(chan item)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(items)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		dec := &Decoder{}

		for scanner.Scan() {
			if d.delay > 0 {
				select {
				case <-time.After(d.delay):
				case <-runCtx.Done():
					return
				}
			}

			events, req, err := dec.Decode(scanner.Bytes())
			if err != nil {
				d.logger.Warn("skipping undecodable transcript line", "path", d.path, "error", err)
				continue
			}
			if req != nil {
				if req.Subtype == controlSubtypeCanUseTool && opts.CanUseTool != nil {
					opts.CanUseTool(runCtx, req.ToolName, req.Input)
				}
				continue
			}
			for _, ev := range events {
				if !emit(runCtx, items, item{ev: ev}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(runCtx, items, item{err: fmt.Errorf("failed to read transcript: %w", err)})
		}
	}()

	return &chanStream{
		items: items,
		closeFn: func() error {
			cancel()
			<-done
			return nil
		},
	}, nil
}
