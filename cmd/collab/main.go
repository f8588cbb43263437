// Command collab is a line-oriented terminal client for the session server.
//
// Usage:
//
//	collab --url ws://localhost:3000/ws
//
// Commands:
//
//	<message>          - Send a message to the agent
//	/submit <prompt>   - Queue a task
//	/approve <id>      - Approve a task
//	/reject <id>       - Reject a task
//	/tasks             - List tasks
//	/yes, /no          - Answer a permission request
//	/interrupt         - Stop the current turn
//	/quit              - Exit
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/claude-collab/backend/internal/client"
	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/state"
	"github.com/claude-collab/backend/internal/wire"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true) // Red
)

var (
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "collab",
	Short: "Chat with the shared agent session",
	Long: `Connect to a collab server, chat with its agent, answer permission
requests and work the task queue from the terminal.`,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "url", "u", "ws://localhost:3000/ws", "server WebSocket URL")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log transport diagnostics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// printer serializes terminal output from handler goroutines and stdin.
type printer struct {
	mu        sync.Mutex
	streaming bool
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming {
		fmt.Println()
		p.streaming = false
	}
	fmt.Println(s)
}

func (p *printer) stream(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		fmt.Print(agentStyle.Render("agent") + " ")
		p.streaming = true
	}
	fmt.Print(s)
}

func runClient(cmd *cobra.Command, args []string) error {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store := state.New(map[string]any{
		state.KeyWSConnected: false,
		state.KeyAgentStatus: wire.StatusIdle,
	}, state.WithLogger(log))
	transport := client.New(serverURL, store, client.WithLogger(log))
	defer transport.Close()
	defer client.Bind(transport, store)()

	out := &printer{}
	watch(transport, store, out)

	fmt.Println(titleStyle.Render("collab") + " " + statusStyle.Render(serverURL))
	transport.Connect()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := handleLine(transport, store, out, line); err != nil {
			out.line(errorStyle.Render(err.Error()))
		}
	}
	return scanner.Err()
}

// watch prints server activity as it arrives.
func watch(t *client.Transport, s *state.Store, out *printer) {
	s.Subscribe(state.KeyWSConnected, func(v any) {
		if v == true {
			out.line(statusStyle.Render("connected"))
		} else {
			out.line(statusStyle.Render("disconnected, reconnecting..."))
		}
	})
	s.Subscribe(state.KeyPendingPermission, func(v any) {
		if p, ok := v.(*client.PendingPermission); ok && p != nil {
			out.line(promptStyle.Render(fmt.Sprintf("allow %s %s? (/yes or /no)", p.Tool, p.Input)))
		}
	})

	t.On(wire.TypeAgentText, func(ev wire.Event) {
		out.stream(ev.Text)
	})
	t.On(wire.TypeAgentStatus, func(ev wire.Event) {
		if ev.Status == wire.StatusThinking {
			out.line(statusStyle.Render("thinking..."))
		}
	})
	t.On(wire.TypeAgentToolCall, func(ev wire.Event) {
		out.line(toolStyle.Render(fmt.Sprintf("> %s %s", ev.Tool, ev.Input)))
	})
	t.On(wire.TypeAgentDone, func(ev wire.Event) {
		meta := "done"
		if ev.Turns != nil {
			meta += fmt.Sprintf(", %d turns", *ev.Turns)
		}
		if ev.Cost != nil {
			meta += fmt.Sprintf(", $%.4f", *ev.Cost)
		}
		out.line(statusStyle.Render(meta))
	})
	t.On(wire.TypeAgentInterrupted, func(wire.Event) {
		out.line(statusStyle.Render("interrupted"))
	})
	t.On(wire.TypeAgentError, func(ev wire.Event) {
		out.line(errorStyle.Render("agent error: " + ev.Error))
	})
	t.On(wire.TypeError, func(ev wire.Event) {
		out.line(errorStyle.Render(ev.Error))
	})
	t.On(wire.TypeTaskUpdate, func(ev wire.Event) {
		if ev.Task != nil && ev.Task.Status != nil {
			out.line(statusStyle.Render(fmt.Sprintf("task %s is %s", ev.Task.ID, *ev.Task.Status)))
		}
	})
}

func handleLine(t *client.Transport, s *state.Store, out *printer, line string) error {
	if !strings.HasPrefix(line, "/") {
		if !client.SendMessage(t, s, line) {
			return fmt.Errorf("not connected")
		}
		out.line(userStyle.Render("you") + " " + line)
		return nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var ev wire.Event
	switch name {
	case "/submit":
		if arg == "" {
			return fmt.Errorf("usage: /submit <prompt>")
		}
		ev = wire.SubmitTask(arg)
	case "/approve", "/reject":
		if arg == "" {
			return fmt.Errorf("usage: %s <task id>", name)
		}
		if name == "/approve" {
			ev = wire.ApproveTask(arg)
		} else {
			ev = wire.RejectTask(arg)
		}
	case "/interrupt":
		ev = wire.Interrupt()
	case "/yes", "/no":
		if !client.RespondPermission(t, s, name == "/yes") {
			return fmt.Errorf("no permission request pending")
		}
		return nil
	case "/tasks":
		printTasks(out, state.Tasks(s))
		return nil
	default:
		return fmt.Errorf("unknown command %s", name)
	}

	if !t.Send(ev) {
		return fmt.Errorf("not connected")
	}
	return nil
}

func printTasks(out *printer, tasks []model.Task) {
	if len(tasks) == 0 {
		out.line(statusStyle.Render("no tasks"))
		return
	}
	for _, task := range tasks {
		out.line(fmt.Sprintf("  %-36s  %-8s  %s", task.ID, task.Status, task.Prompt))
	}
}
