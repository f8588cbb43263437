package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude-collab/backend/internal/buffer"
	"github.com/claude-collab/backend/internal/model"
)

const (
	// DefaultClaudeBinary is the Claude Code CLI executable name.
	DefaultClaudeBinary = "claude"

	// DefaultMaxTurns bounds the number of agent turns per invocation.
	DefaultMaxTurns = 30

	// stderrTailSize is how much CLI stderr is kept for error reports.
	stderrTailSize = 4096

	// maxLineSize is the largest stream-json line accepted from the CLI.
	maxLineSize = 16 * 1024 * 1024

	// exitGrace is how long a CLI that reported its result may take to exit on its own.
	exitGrace = 2 * time.Second
)

// DefaultAllowedTools is the tool set granted to the agent.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}

// ClaudeConfig holds configuration for the Claude Code CLI driver.
type ClaudeConfig struct {
	Binary          string
	Model           string
	MaxTurns        int
	WorkDir         string
	AllowedTools    []string
	PermissionMode  string
	PartialMessages bool
	Env             []string
	Logger          *slog.Logger
}

// ClaudeDriver runs the Claude Code CLI in stream-json mode, one process per turn.
// Permission prompts are answered over the process's stdin.
type ClaudeDriver struct {
	config ClaudeConfig
	logger *slog.Logger
}

// NewClaudeDriver creates a new ClaudeDriver instance.
func NewClaudeDriver(config ClaudeConfig) *ClaudeDriver {
	if config.Binary == "" {
		config.Binary = DefaultClaudeBinary
	}
	if config.MaxTurns == 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.AllowedTools == nil {
		config.AllowedTools = DefaultAllowedTools
	}
	if config.PermissionMode == "" {
		config.PermissionMode = "default"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeDriver{
		config: config,
		logger: logger.With("component", "driver", "driver", "claude"),
	}
}

// Name returns the name of the driver.
func (d *ClaudeDriver) Name() string {
	return "claude"
}

// Args builds the CLI arguments for one invocation.
func (d *ClaudeDriver) Args(opts Options) []string {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}

	if d.config.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(d.config.MaxTurns))
	}

	modelName := d.config.Model
	if opts.Model != "" {
		modelName = opts.Model
	}
	if modelName != "" {
		args = append(args, "--model", modelName)
	}

	if len(d.config.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(d.config.AllowedTools, ","))
	}
	if d.config.PermissionMode != "" {
		args = append(args, "--permission-mode", d.config.PermissionMode)
	}
	if opts.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if d.config.PartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}

	return args
}

// Invoke starts the CLI, writes the prompt and returns its event stream.
func (d *ClaudeDriver) Invoke(ctx context.Context, prompt string, opts Options) (Stream, error) {
	path, err := exec.LookPath(d.config.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", model.ErrAgentUnavailable, d.config.Binary, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, path, d.Args(opts)...)
	cmd.Dir = d.config.WorkDir
	cmd.Env = append(os.Environ(), d.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr := buffer.NewTail(stderrTailSize)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start %s: %v", model.ErrAgentUnavailable, path, err)
	}

	p := &claudeProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		items:  make(chan item),
		done:   make(chan struct{}),
		logger: d.logger.With("pid", cmd.Process.Pid),
	}

	line, err := encodeUserMessage(prompt)
	if err == nil {
		err = p.write(line)
	}
	if err != nil {
		cancel()
		cmd.Wait()
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	d.logger.Debug("claude started", "pid", cmd.Process.Pid, "resume", opts.Resume)

	go p.run(runCtx, opts.CanUseTool)

	return &chanStream{items: p.items, closeFn: p.close}, nil
}

// claudeProcess is one running CLI invocation.
type claudeProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *buffer.Tail
	cancel context.CancelFunc
	items  chan item
	done   chan struct{}
	logger *slog.Logger

	resultSeen atomic.Bool

	writeMu     sync.Mutex
	stdinClosed bool
}

// run reads stdout until the process exits, then reaps it.
func (p *claudeProcess) run(ctx context.Context, canUseTool PermissionFunc) {
	defer close(p.done)
	defer close(p.items)

	// A killed CLI can leave children holding stdout open.
	stop := context.AfterFunc(ctx, func() { p.stdout.Close() })
	defer stop()

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	dec := &Decoder{}
	resultSeen := false

read:
	for scanner.Scan() {
		events, req, err := dec.Decode(scanner.Bytes())
		if err != nil {
			p.logger.Warn("skipping undecodable stream line", "error", err)
			continue
		}

		if req != nil {
			p.answer(ctx, req, canUseTool)
			continue
		}

		for _, ev := range events {
			if ev.Kind == EventResult {
				resultSeen = true
				p.resultSeen.Store(true)
			}
			if !emit(ctx, p.items, item{ev: ev}) {
				break read
			}
		}

		// The CLI keeps reading stdin in stream-json mode; closing it ends the process.
		if resultSeen {
			p.closeStdin()
		}
	}
	scanErr := scanner.Err()

	p.closeStdin()
	waitErr := p.cmd.Wait()

	if ctx.Err() != nil || resultSeen {
		return
	}
	if waitErr != nil {
		tail := p.stderr.String()
		emit(ctx, p.items, item{err: fmt.Errorf("claude exited: %w: %s", waitErr, tail)})
		return
	}
	if scanErr != nil {
		emit(ctx, p.items, item{err: fmt.Errorf("failed to read claude output: %w", scanErr)})
	}
}

// answer replies to a control request on stdin.
func (p *claudeProcess) answer(ctx context.Context, req *ControlRequest, canUseTool PermissionFunc) {
	var (
		line []byte
		err  error
	)

	if req.Subtype != controlSubtypeCanUseTool {
		line, err = encodeControlError(req, "unsupported control request: "+req.Subtype)
	} else {
		allowed := false
		if canUseTool != nil {
			ok, permErr := canUseTool(ctx, req.ToolName, req.Input)
			if permErr != nil {
				p.logger.Info("permission request ended without a decision", "tool", req.ToolName, "error", permErr)
			}
			allowed = ok && permErr == nil
		}
		line, err = encodePermissionResponse(req, allowed)
	}
	if err == nil {
		err = p.write(line)
	}
	if err != nil {
		p.logger.Warn("failed to answer control request", "request_id", req.RequestID, "error", err)
	}
}

func (p *claudeProcess) write(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.stdinClosed {
		return io.ErrClosedPipe
	}
	_, err := p.stdin.Write(line)
	return err
}

func (p *claudeProcess) closeStdin() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.stdinClosed {
		return
	}
	p.stdinClosed = true
	p.stdin.Close()
}

// close gives a finished CLI a moment to exit, then kills it and waits for the reader.
func (p *claudeProcess) close() error {
	if p.resultSeen.Load() {
		select {
		case <-p.done:
		case <-time.After(exitGrace):
		}
	}
	p.cancel()
	<-p.done
	return nil
}
