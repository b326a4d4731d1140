// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for the driftchat CLI.
//
// Handles the "driftchat chat" command which provides an interactive REPL
// streaming model output as it arrives.
//
// Command: chat
//
// Examples:
//   driftchat chat                      Start interactive chat (default model)
//   driftchat chat --model qwen2.5:14b  Use specific model
//   driftchat chat --incognito          Memory-only chat
//   driftchat chat --chat 01J8...       Resume an existing chat
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new                Start a new chat
//   /chats              List chats
//   /switch <id>        Switch to another chat
//   /incognito          Start a new incognito chat
//   /model [name]       Show or switch model
//   /regen              Regenerate the last answer
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/driftchat/internal/assemble"
	"github.com/jeranaias/driftchat/internal/config"
	"github.com/jeranaias/driftchat/internal/engine"
	"github.com/jeranaias/driftchat/internal/model"
	"github.com/jeranaias/driftchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.Dir()
	if err != nil {
		configDir = os.TempDir()
	}
	historyFile := filepath.Join(configDir, "chat_history")

	cli := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
// Supports history navigation with arrow keys.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history to file with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state for one interactive chat session.
type chatSession struct {
	app   *App
	input *ChatCLI
	quiet bool

	mu     sync.Mutex
	chatID string // chat receiving the in-flight turn, for Ctrl+C abort

	startTime time.Time
	turns     int
}

func (s *chatSession) setActive(id string) {
	s.mu.Lock()
	s.chatID = id
	s.mu.Unlock()
}

func (s *chatSession) active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles the "chat" command with full interactive support.
func (a *App) HandleChat(args *ArgParser) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	session := &chatSession{
		app:       a,
		input:     NewChatCLI(),
		quiet:     args.BoolFlag("quiet") || args.BoolFlag("q"),
		startTime: time.Now(),
	}
	defer session.input.Close()

	chat, err := a.resolveChat(args)
	if err != nil {
		return err
	}

	if !session.quiet {
		printWelcome(chat)
	}

	// First Ctrl+C during generation aborts the in-flight turn. The liner
	// handles Ctrl+C at the prompt itself via ErrPromptAborted.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			if id := session.active(); id != "" {
				if a.Engine.Abort(id) {
					fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[cancelled]"))
				}
			}
		}
	}()

	for {
		input, err := session.input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C (ErrPromptAborted), Ctrl+D, or read failure all exit.
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			next, cont, err := handleSlashCommand(input, session, chat)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
			}
			if next != nil {
				chat = next
			}
			if !cont {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(session)
			return nil
		}

		if err := session.sendTurn(chat, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
		}
	}
}

// resolveChat picks the chat the session starts in: an explicit --chat ID,
// a fresh incognito chat, or a brand new chat with the selected model.
func (a *App) resolveChat(args *ArgParser) (*model.Chat, error) {
	if id := args.FlagOrDefault("chat", args.Flag("c")); id != "" {
		chat := a.Store.Get(id)
		if chat == nil {
			return nil, fmt.Errorf("no chat with id %s", id)
		}
		if err := a.Store.SetCurrent(id); err != nil {
			return nil, err
		}
		return chat, nil
	}

	modelID := args.FlagOrDefault("model", args.Flag("m"))
	if modelID == "" {
		modelID = a.Config.Backend.Model
	}
	return a.Engine.NewChat(modelID, args.BoolFlag("incognito"))
}

// =============================================================================
// TURN PROCESSING
// =============================================================================

// sendTurn runs one user turn: streams visible content to stdout as it
// arrives and prints extracted segments after the turn completes.
func (s *chatSession) sendTurn(chat *model.Chat, input string) error {
	printer := &streamPrinter{}
	s.app.Engine.SetTap(func(chatID string, snap assemble.Snapshot) {
		if chatID == chat.ID {
			printer.apply(snap)
		}
	})
	defer s.app.Engine.SetTap(nil)

	s.setActive(chat.ID)
	defer s.setActive("")

	fmt.Println()
	start := time.Now()
	err := s.app.Engine.Send(context.Background(), chat.ID, input)
	if err != nil {
		if errors.Is(err, engine.ErrBusy) {
			return fmt.Errorf("a response is already streaming in this chat")
		}
		// The failure notice is already part of the transcript; surface
		// whatever was streamed before the error.
		printer.finish(s.app.Store.Get(chat.ID))
		fmt.Println()
		return err
	}

	printer.finish(s.app.Store.Get(chat.ID))
	fmt.Println()

	s.turns++
	if !s.quiet {
		fmt.Fprintf(os.Stderr, "%s %s\n",
			infoStyle.Render("[done]"),
			time.Since(start).Round(time.Millisecond))
	}
	fmt.Println()
	return nil
}

// streamPrinter writes visible content to stdout incrementally. Extraction
// can retract text (an open tag closing moves its body into a segment), in
// which case streaming stops and the final transcript is printed whole.
type streamPrinter struct {
	printed  string
	diverged bool
}

func (p *streamPrinter) apply(snap assemble.Snapshot) {
	if p.diverged {
		return
	}
	if !strings.HasPrefix(snap.Content, p.printed) {
		p.diverged = true
		return
	}
	fmt.Print(snap.Content[len(p.printed):])
	p.printed = snap.Content
}

// finish prints whatever streaming could not: the reconciled visible text
// after a divergence, plus thinking and tagged segments.
func (p *streamPrinter) finish(chat *model.Chat) {
	if chat == nil {
		return
	}
	msg := chat.LastMessage()
	if msg == nil || msg.Role != model.RoleAssistant {
		return
	}

	if p.diverged {
		fmt.Println()
		fmt.Println()
		fmt.Print(msg.Content)
	}
	if msg.Content != "" {
		fmt.Println()
	}

	if msg.Thinking != "" {
		fmt.Println()
		fmt.Println(thinkingStyle.Render("[thinking] " + util.FirstLine(msg.Thinking)))
	}
	for _, seg := range msg.Segments {
		fmt.Println()
		fmt.Println(tagStyle.Render("<" + seg.Tag + ">"))
		fmt.Println(seg.Content)
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (newChat, shouldContinue, error); newChat is non-nil when the
// session switched to a different chat.
func handleSlashCommand(cmd string, session *chatSession, chat *model.Chat) (*model.Chat, bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return nil, true, nil
	}

	command := strings.ToLower(parts[0])
	rest := parts[1:]
	app := session.app

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp()
		return nil, true, nil

	case "/new":
		next, err := app.Engine.NewChat(chat.Model, false)
		if err != nil {
			return nil, true, err
		}
		fmt.Println(commandStyle.Render("[new chat]"))
		return next, true, nil

	case "/incognito":
		next, err := app.Engine.NewChat(chat.Model, true)
		if err != nil {
			return nil, true, err
		}
		fmt.Println(warningStyle.Render("[incognito chat - nothing will be saved]"))
		return next, true, nil

	case "/chats":
		printChatList(app, chat.ID)
		return nil, true, nil

	case "/switch":
		if len(rest) == 0 {
			return nil, true, fmt.Errorf("usage: /switch <id>")
		}
		next := app.Store.Get(rest[0])
		if next == nil {
			return nil, true, fmt.Errorf("no chat with id %s", rest[0])
		}
		if err := app.Store.SetCurrent(next.ID); err != nil {
			return nil, true, err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[switched]"), chatLabel(next))
		return next, true, nil

	case "/model", "/m":
		if len(rest) == 0 {
			fmt.Printf("%s %s\n",
				infoStyle.Render("[model]"),
				commandStyle.Render(chat.Model))
			return nil, true, nil
		}
		newModel := rest[0]
		_, err := app.Store.Update(chat.ID, func(c *model.Chat) {
			c.Model = newModel
		})
		if err != nil {
			return nil, true, err
		}
		chat.Model = newModel
		fmt.Printf("%s switched to model: %s\n", commandStyle.Render("[ok]"), newModel)
		return nil, true, nil

	case "/regen":
		msg := chat.LastMessage()
		if msg == nil || msg.Role != model.RoleAssistant {
			return nil, true, fmt.Errorf("nothing to regenerate")
		}
		return nil, true, session.regenTurn(chat, msg.ID)

	case "/quit", "/q", "/exit":
		return nil, false, nil

	default:
		return nil, true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// regenTurn replays the last user turn with streaming output, mirroring
// sendTurn's display handling.
func (s *chatSession) regenTurn(chat *model.Chat, messageID string) error {
	printer := &streamPrinter{}
	s.app.Engine.SetTap(func(chatID string, snap assemble.Snapshot) {
		if chatID == chat.ID {
			printer.apply(snap)
		}
	})
	defer s.app.Engine.SetTap(nil)

	s.setActive(chat.ID)
	defer s.setActive("")

	fmt.Println()
	if err := s.app.Engine.Regenerate(context.Background(), chat.ID, messageID); err != nil {
		printer.finish(s.app.Store.Get(chat.ID))
		fmt.Println()
		return err
	}
	printer.finish(s.app.Store.Get(chat.ID))
	fmt.Println()
	fmt.Println()
	s.turns++
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// chatLabel formats a one-line identifier for a chat.
func chatLabel(c *model.Chat) string {
	title := c.Title
	if title == "" {
		title = "(untitled)"
	}
	return fmt.Sprintf("%s  %s", c.ID, util.TruncateWidth(title, 48))
}

// printWelcome prints the welcome banner.
func printWelcome(chat *model.Chat) {
	fmt.Println()
	fmt.Println(titleStyle.Render("driftchat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Model:"),
		commandStyle.Render(chat.Model))
	if chat.Incognito {
		fmt.Printf("%s %s\n",
			infoStyle.Render("Mode:"),
			warningStyle.Render("Incognito (memory only)"))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

// printChatHelp prints available slash commands.
func printChatHelp() {
	fmt.Println()
	fmt.Println(titleStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new", "Start a new chat"},
		{"/incognito", "Start a new incognito chat"},
		{"/chats", "List chats"},
		{"/switch <id>", "Switch to another chat"},
		{"/model [name]", "Show or switch model"},
		{"/regen", "Regenerate the last answer"},
		{"/quit, /q", "Exit chat"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-15s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels current generation, Ctrl+D exits"))
	fmt.Println()
}

// printChatList prints all chats, marking the active one.
func printChatList(app *App, activeID string) {
	chats := app.Store.List()
	if len(chats) == 0 {
		fmt.Println(infoStyle.Render("[no chats yet]"))
		return
	}
	fmt.Println()
	for _, c := range chats {
		marker := "  "
		if c.ID == activeID {
			marker = commandStyle.Render("* ")
		}
		line := chatLabel(c)
		if c.Incognito {
			line += "  " + warningStyle.Render("[incognito]")
		}
		fmt.Printf("%s%s  %s\n", marker, line, infoStyle.Render(formatAge(c.UpdatedAt)))
	}
	fmt.Println()
}

// printExitSummary prints the session summary on exit.
func printExitSummary(session *chatSession) {
	if session.turns == 0 {
		fmt.Println(infoStyle.Render("Goodbye!"))
		return
	}

	elapsed := time.Since(session.startTime).Round(time.Second)
	fmt.Println()
	fmt.Printf("  %s %d\n", infoStyle.Render("Turns:"), session.turns)
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed.String())
	fmt.Println()
	fmt.Println(infoStyle.Render("Goodbye!"))
}
