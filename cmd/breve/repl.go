package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/divy-sh/breve/internal/models"
	"github.com/divy-sh/breve/internal/state"
	"github.com/fatih/color"
)

const banner = `
 _
| |__  _ __ _____   _____
| '_ \| '__/ _ \ \ / / _ \
| |_) | | |  __/\ V /  __/
|_.__/|_|  \___| \_/ \___|
`

type repl struct {
	session *state.Session
	out     io.Writer

	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	dim    *color.Color

	mu        sync.Mutex
	streaming string // conversation receiving a reply, "" when idle
	printed   bool   // whether a chunk of the current reply was printed
	lastPct   int

	unsubscribe func()
}

func newREPL(session *state.Session, out io.Writer) *repl {
	return &repl{
		session: session,
		out:     out,
		cyan:    color.New(color.FgCyan),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		dim:     color.New(color.Faint, color.Italic),
		lastPct: -1,
	}
}

// start loads the conversation list, reopens the last conversation and attaches the listeners that
// print streamed replies and download progress.
func (r *repl) start(ctx context.Context) {
	r.session.Registry.EnsureSubscribed(models.ChannelGenerationChunk, r.handleChunk)
	r.unsubscribe = r.session.Store.Subscribe(func(c state.Change) {
		if c == state.ChangeDownload {
			r.printDownload()
		}
	})

	r.session.Conversations.LoadConversations(ctx)
	r.session.Conversations.RestoreLastConversation(ctx)
}

func (r *repl) close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.cyan.Fprint(r.out, banner)
	r.cyan.Fprintln(r.out, "Type a message to chat, /help for commands (Ctrl+D to exit)")
	if conv := r.session.Store.Current(); conv != nil {
		r.printConversation(conv)
	}
	fmt.Fprintln(r.out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024) // 1MB max input
	for {
		r.green.Fprint(r.out, "> ")
		if !scanner.Scan() {
			// EOF (Ctrl+D) or error
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := r.exec(ctx, line)
		if err != nil {
			r.red.Fprintf(r.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// parseLine splits a slash command from its argument. Lines without a leading slash are messages
// and have an empty command.
func parseLine(line string) (cmd, arg string) {
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (r *repl) exec(ctx context.Context, line string) (quit bool, err error) {
	cmd, arg := parseLine(line)
	convs := r.session.Conversations
	mdls := r.session.Models

	switch cmd {
	case "":
		return false, r.send(ctx, arg)
	case "/new":
		if arg == "" {
			return false, fmt.Errorf("usage: /new <message>")
		}
		return false, r.startNew(ctx, arg)
	case "/list":
		convs.LoadConversations(ctx)
		r.printSummaries()
	case "/open":
		id, ok := r.resolveConversation(arg)
		if !ok {
			return false, fmt.Errorf("no conversation %q", arg)
		}
		convs.LoadConversation(ctx, id)
		if conv := r.session.Store.Current(); conv != nil && conv.ID == id {
			r.printConversation(conv)
		}
	case "/delete":
		id, ok := r.resolveConversation(arg)
		if !ok {
			return false, fmt.Errorf("no conversation %q", arg)
		}
		if err := convs.DeleteConversation(ctx, id); err != nil {
			return false, err
		}
		r.yellow.Fprintln(r.out, "Conversation deleted")
	case "/models":
		r.printModels(ctx)
	case "/download":
		r.yellow.Fprintln(r.out, "Downloading, this may take a while...")
		if err := mdls.DownloadModel(ctx, arg); err != nil {
			return false, err
		}
		mdls.DownloadedModels(ctx)
	case "/default":
		if arg == "" {
			fmt.Fprintf(r.out, "Default model: %s\n", orNone(mdls.DefaultModel(ctx)))
			return false, nil
		}
		if err := mdls.SetDefaultModel(ctx, arg); err != nil {
			return false, err
		}
		r.yellow.Fprintf(r.out, "Default model set to %s\n", arg)
	case "/remove":
		if arg == "" {
			return false, fmt.Errorf("usage: /remove <model>")
		}
		if err := mdls.DeleteModel(ctx, arg); err != nil {
			return false, err
		}
		r.yellow.Fprintf(r.out, "Model %s removed\n", arg)
	case "/status":
		fmt.Fprintf(r.out, "Model status: %s (default %s)\n", mdls.ModelStatus(ctx), orNone(mdls.DefaultModel(ctx)))
	case "/abort":
		mdls.AbortGeneration(ctx)
	case "/help":
		r.printHelp()
	case "/quit", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// send continues the active conversation, or starts one when there is none.
func (r *repl) send(ctx context.Context, message string) error {
	conv := r.session.Store.Current()
	if conv == nil {
		return r.startNew(ctx, message)
	}
	return r.reply(ctx, conv.ID, message)
}

func (r *repl) startNew(ctx context.Context, message string) error {
	id, err := r.session.Conversations.StartNewConversation(ctx, message)
	if err != nil {
		return err
	}
	return r.reply(ctx, id, message)
}

func (r *repl) reply(ctx context.Context, id, message string) error {
	r.mu.Lock()
	r.streaming, r.printed = id, false
	r.mu.Unlock()

	err := r.session.Conversations.ContinueConversation(ctx, id, message)

	r.mu.Lock()
	printed := r.printed
	r.streaming = ""
	r.mu.Unlock()

	if err != nil {
		if printed {
			fmt.Fprintln(r.out)
		}
		return err
	}

	// Chunks may have been missed while the event stream was connecting; fall back to the stored
	// reply.
	if !printed {
		if conv := r.session.Store.Current(); conv != nil && conv.ID == id && len(conv.Messages) > 0 {
			if last := conv.Messages[len(conv.Messages)-1]; last.Role == models.RoleAssistant {
				fmt.Fprint(r.out, last.Content)
			}
		}
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *repl) generating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming != ""
}

func (r *repl) handleChunk(payload json.RawMessage) {
	var chunk models.GenerationChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if chunk.ConversationID != r.streaming || r.streaming == "" {
		return
	}
	r.printed = true
	fmt.Fprint(r.out, chunk.Text)
}

func (r *repl) printDownload() {
	store := r.session.Store
	downloading, pct := store.Downloading(), int(store.DownloadProgress())

	r.mu.Lock()
	defer r.mu.Unlock()
	if !downloading {
		if r.lastPct >= 0 {
			r.dim.Fprintln(r.out, "[download finished]")
		}
		r.lastPct = -1
		return
	}
	// Report in steps of 10% to keep the prompt readable.
	step := pct / 10 * 10
	if step <= r.lastPct {
		return
	}
	r.lastPct = step
	r.dim.Fprintf(r.out, "[downloading model: %d%%]\n", step)
}

// resolveConversation maps a 1-based position in the list, a full ID or an ID prefix to a
// conversation ID. An empty argument means the active conversation.
func (r *repl) resolveConversation(arg string) (string, bool) {
	if arg == "" {
		if conv := r.session.Store.Current(); conv != nil {
			return conv.ID, true
		}
		return "", false
	}

	summaries := r.session.Store.Summaries()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(summaries) {
		return summaries[n-1].ID, true
	}
	for _, s := range summaries {
		if s.ID == arg || strings.HasPrefix(s.ID, arg) {
			return s.ID, true
		}
	}
	return "", false
}

func (r *repl) printSummaries() {
	summaries := r.session.Store.Summaries()
	if len(summaries) == 0 {
		fmt.Fprintln(r.out, "No conversations yet")
		return
	}

	var currentID string
	if conv := r.session.Store.Current(); conv != nil {
		currentID = conv.ID
	}
	for i, s := range summaries {
		marker := " "
		if s.ID == currentID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %s ", marker, i+1, s.Title)
		r.dim.Fprintf(r.out, "(%s)\n", s.ID)
	}
}

func (r *repl) printConversation(conv *models.Conversation) {
	r.cyan.Fprintf(r.out, "== %s ==\n", conv.Title)
	for _, msg := range conv.Messages {
		switch msg.Role {
		case models.RoleUser:
			r.green.Fprintf(r.out, "> %s\n", msg.Content)
		case models.RoleAssistant:
			fmt.Fprintln(r.out, msg.Content)
		}
	}
}

func (r *repl) printModels(ctx context.Context) {
	mdls := r.session.Models
	available := mdls.AvailableModels(ctx)
	downloaded := mdls.DownloadedModels(ctx)
	def := mdls.DefaultModel(ctx)

	names := slices.Sorted(maps.Keys(available))
	if len(names) == 0 {
		fmt.Fprintln(r.out, "No models available")
		return
	}

	for _, name := range names {
		info := available[name]
		var tags []string
		if slices.Contains(downloaded, name) {
			tags = append(tags, "downloaded")
		}
		if name == def {
			tags = append(tags, "default")
		}
		fmt.Fprintf(r.out, "  %-16s %-24s %5s", name, info.Name, info.Params)
		if len(tags) > 0 {
			r.yellow.Fprintf(r.out, "  [%s]", strings.Join(tags, ", "))
		}
		fmt.Fprintln(r.out)
	}
}

func (r *repl) printHelp() {
	r.yellow.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  <message>            Continue the open conversation (or start one)")
	fmt.Fprintln(r.out, "  /new <message>       Start a new conversation")
	fmt.Fprintln(r.out, "  /list                List conversations")
	fmt.Fprintln(r.out, "  /open <n|id>         Open a conversation")
	fmt.Fprintln(r.out, "  /delete [n|id]       Delete a conversation (default: the open one)")
	fmt.Fprintln(r.out, "  /models              List models")
	fmt.Fprintln(r.out, "  /download [model]    Download a model (default: the default model)")
	fmt.Fprintln(r.out, "  /default [model]     Show or set the default model")
	fmt.Fprintln(r.out, "  /remove <model>      Delete a downloaded model")
	fmt.Fprintln(r.out, "  /status              Show the model status")
	fmt.Fprintln(r.out, "  /abort               Stop the reply being generated (or press Ctrl+C)")
	fmt.Fprintln(r.out, "  /quit                Exit")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
