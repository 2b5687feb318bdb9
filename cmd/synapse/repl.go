package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/martinemde/synapse/agentloop"
	"github.com/martinemde/synapse/unifiedllm"
)

const banner = `synapse - code agent with live file context

Ask anything: "Find bugs in this file", "Generate tests for validateEmail",
"Search for 'useState' in ./src", "What's 15 + 27?", "Bitcoin price?"

Type "help" for commands.`

const helpText = `Commands:
  load <path>   watch a file and add it to every question
  check         re-read the watched file now
  context       show the watched file and its recent changes
  models        list the models known for this provider
  clear         clear the screen
  help          show this help
  exit, quit    leave

Anything else is sent to the agent.`

type repl struct {
	session *agentloop.Session
	in      *bufio.Scanner
	out     io.Writer
	mu      sync.Mutex
}

func newREPL(session *agentloop.Session, in io.Reader, out io.Writer) *repl {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &repl{session: session, in: sc, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) loop(ctx context.Context) error {
	r.printf("%s\n", banner)
	for {
		r.printf("\nyou> ")
		if !r.in.Scan() {
			r.printf("\n")
			return r.in.Err()
		}
		if quit := r.handle(ctx, r.in.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	cmd := strings.ToLower(line)
	switch {
	case line == "":
		r.printf("Please enter a question or command.\n")
	case cmd == "exit" || cmd == "quit":
		r.printf("Goodbye.\n")
		return true
	case cmd == "clear":
		r.printf("\033[H\033[2J")
	case cmd == "help":
		r.printf("%s\n", helpText)
	case strings.HasPrefix(cmd, "load "):
		r.load(strings.TrimSpace(line[len("load "):]))
	case cmd == "check":
		r.check()
	case cmd == "context":
		r.showContext()
	case cmd == "models":
		r.listModels()
	default:
		r.ask(ctx, line)
	}
	return false
}

func (r *repl) load(path string) {
	fc, err := r.session.Watch(path)
	if err != nil {
		r.printf("Could not load %s: %v\n", path, err)
		return
	}
	r.printf("Watching %s (%s, %d lines, %d bytes)\n", fc.FileName, fc.Language, fc.LineCount, fc.Size)
}

func (r *repl) check() {
	rec, err := r.session.CheckForChanges()
	switch {
	case errors.Is(err, agentloop.ErrNotWatched):
		r.printf("No file loaded. Use \"load <path>\" first.\n")
	case err != nil:
		r.printf("Check failed: %v\n", err)
	case rec == nil:
		r.printf("No changes detected in %s\n", r.session.FileContext().FileName)
	default:
		r.printf("%s", agentloop.FormatChangeNotice(*rec))
	}
}

func (r *repl) showContext() {
	fc := r.session.FileContext()
	if fc == nil {
		r.printf("No file loaded. Use \"load <path>\" first.\n")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nPath: %s\nLanguage: %s\nLines: %d\nSize: %d bytes\nLast modified: %s\n",
		fc.FileName, fc.Path, fc.Language, fc.LineCount, fc.Size, fc.ModTime.Format("2006-01-02 15:04:05"))
	changes := r.session.ChangeHistory()
	if len(changes) > 0 {
		fmt.Fprintf(&b, "Recent changes: %d\n", len(changes))
		if len(changes) > 3 {
			changes = changes[len(changes)-3:]
		}
		for i, c := range changes {
			fmt.Fprintf(&b, "  %d. %d changes (%d+, %d-, %d~)\n",
				i+1, c.Delta.Total(), c.Delta.Added, c.Delta.Removed, c.Delta.Modified)
		}
	}
	r.printf("%s", b.String())
}

func (r *repl) ask(ctx context.Context, input string) {
	res, err := r.session.Run(ctx, input)
	if err != nil {
		r.printf("\nError: %v\nTry rephrasing, or type \"help\".\n", err)
		return
	}
	if res.Status == agentloop.StatusMaxIterationsExceeded {
		r.printf("\nStopped after %d steps without a final answer.\n", res.Iterations)
		return
	}
	r.printf("\nagent> %s\n", res.Answer)
	if res.Usage.TotalTokens > 0 {
		line := fmt.Sprintf("  [%d steps, %d tokens", res.Iterations, res.Usage.TotalTokens)
		if cost, ok := unifiedllm.EstimateCost(r.session.Profile().ModelID(), res.Usage); ok {
			line += fmt.Sprintf(", ~$%.4f", cost)
		}
		r.printf("%s]\n", line)
	}
}

func (r *repl) listModels() {
	p := r.session.Profile()
	for _, m := range unifiedllm.ListModels(p.ID()) {
		marker := " "
		if m.ID == p.ModelID() {
			marker = "*"
		}
		r.printf("%s %-28s %s, %dk context\n", marker, m.ID, m.DisplayName, m.ContextWindow/1000)
	}
}

// printEvents shows tool activity while a run is in progress. It returns
// when the session closes the channel.
func (r *repl) printEvents(events <-chan agentloop.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventToolCallStart:
			r.printf("  -> %v %v\n", ev.Data["tool_name"], ev.Data["arguments"])
		case agentloop.EventToolCallEnd:
			if msg, ok := ev.Data["error"]; ok {
				r.printf("  <- error: %v\n", msg)
			}
		case agentloop.EventFileChanged:
			r.printf("  file changed: %v (+%v -%v ~%v)\n",
				ev.Data["path"], ev.Data["added"], ev.Data["removed"], ev.Data["modified"])
		case agentloop.EventToolCallsDropped:
			r.printf("  skipped extra tool calls: %v\n", ev.Data["dropped"])
		case agentloop.EventWarning, agentloop.EventLoopDetection:
			r.printf("  warning: %v\n", ev.Data["message"])
		}
	}
}
