package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/orchestrator"
	"github.com/kadirpekel/sahayak/pkg/session"
)

// AskCmd answers one question and exits.
type AskCmd struct {
	Question []string          `arg:"" help:"The question to ask."`
	Profile  map[string]string `short:"p" help:"User profile entries, e.g. --profile state=Karnataka." mapsep:","`
	Session  string            `short:"s" help:"Continue an existing session (needs a persistent session backend)."`
	JSON     bool              `help:"Print the answer as JSON."`
	Trace    bool              `help:"Print the tool calls made for this turn."`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ans, err := a.engine.Ask(ctx, c.Session, strings.Join(c.Question, " "), classifier.Profile(c.Profile))
	if err != nil {
		return err
	}

	if c.JSON {
		return printJSON(map[string]any{
			"session_id": ans.SessionID,
			"answer":     ans.Content,
			"truncated":  ans.Truncated,
			"warning":    ans.Warning,
			"rounds":     ans.Rounds,
			"tools":      ans.Decision.Tools,
		})
	}
	if c.Trace {
		printTrace(os.Stdout, turnMessages(ans.Messages))
	}
	printAnswer(os.Stdout, ans)
	return nil
}

// ChatCmd runs an interactive conversation in one session.
type ChatCmd struct {
	Profile map[string]string `short:"p" help:"User profile entries, e.g. --profile state=Karnataka." mapsep:","`
	Session string            `short:"s" help:"Resume an existing session."`
	Trace   bool              `help:"Print the tool calls made for each turn."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := c.Session
	if sessionID == "" {
		st, err := a.engine.CreateSession(ctx)
		if err != nil {
			return err
		}
		sessionID = st.ID
	}

	return chatLoop(ctx, a.engine, sessionID, classifier.Profile(c.Profile), c.Trace, os.Stdin, os.Stdout)
}

type chatEngine interface {
	CreateSession(ctx context.Context) (*session.State, error)
	Session(ctx context.Context, id string) (*session.State, error)
	EndSession(ctx context.Context, id string) error
	Ask(ctx context.Context, sessionID, query string, profile classifier.Profile) (*orchestrator.Answer, error)
}

func chatLoop(ctx context.Context, eng chatEngine, sessionID string, profile classifier.Profile, trace bool, in io.Reader, out io.Writer) error {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	if interactive {
		fmt.Fprintln(out, "MSME-Sahayak. Ask about MSME schemes, Udyam or GST.")
		fmt.Fprintln(out, "Commands: /new starts over, /history shows the transcript, /quit exits.")
	}

	reader := bufio.NewReader(in)
	for {
		if interactive {
			fmt.Fprint(out, "\nYou: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input := strings.TrimSpace(line)

		switch {
		case input == "":
		case input == "/quit" || input == "/exit":
			return nil
		case input == "/new":
			_ = eng.EndSession(ctx, sessionID)
			st, err := eng.CreateSession(ctx)
			if err != nil {
				return err
			}
			sessionID = st.ID
			fmt.Fprintln(out, "Started a new conversation.")
		case input == "/history":
			st, err := eng.Session(ctx, sessionID)
			if err != nil {
				return err
			}
			printHistory(out, st.Messages())
		case strings.HasPrefix(input, "/"):
			fmt.Fprintf(out, "Unknown command: %s\n", input)
		default:
			ans, askErr := eng.Ask(ctx, sessionID, input, profile)
			if askErr != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", askErr)
				break
			}
			if trace {
				printTrace(out, turnMessages(ans.Messages))
			}
			printAnswer(out, ans)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// turnMessages returns the messages after the last user message.
func turnMessages(msgs []session.Message) []session.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == session.RoleUser {
			return msgs[i+1:]
		}
	}
	return nil
}

func printAnswer(w io.Writer, ans *orchestrator.Answer) {
	fmt.Fprintf(w, "\nSahayak: %s\n", ans.Content)
	if ans.Warning != "" {
		fmt.Fprintf(w, "\n(%s)\n", ans.Warning)
	}
}

func printTrace(w io.Writer, msgs []session.Message) {
	for _, m := range msgs {
		for _, call := range m.ToolCalls {
			fmt.Fprintf(w, "  -> %s %v\n", call.Name, call.Arguments)
		}
		if m.Role == session.RoleTool {
			fmt.Fprintf(w, "  <- %s [%s] %d chars\n", m.ToolName, m.Status, len(m.Content))
		}
	}
}

func printHistory(w io.Writer, msgs []session.Message) {
	for _, m := range msgs {
		switch m.Role {
		case session.RoleUser:
			fmt.Fprintf(w, "You: %s\n", m.Content)
		case session.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(w, "Sahayak: %s\n", m.Content)
			}
		}
	}
}
