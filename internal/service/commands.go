package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// CommandFunc answers one command. args is the text after the command token.
type CommandFunc func(ctx context.Context, msg *domain.Message, args string) (string, error)

// CommandService runs bot commands in the background and reports their
// results to the registered completion handlers
type CommandService struct {
	log zerolog.Logger

	mu       sync.RWMutex
	commands map[string]command
	handlers []func(domain.CommandResult)

	wg sync.WaitGroup
}

type command struct {
	description string
	run         CommandFunc
}

// NewCommandService creates a command service with the built-in /help and /ping
func NewCommandService(log zerolog.Logger) *CommandService {
	s := &CommandService{
		log:      log.With().Str("component", "commands").Logger(),
		commands: make(map[string]command),
	}
	s.Register("help", "list available commands", s.help)
	s.Register("ping", "check that the bot is alive", func(context.Context, *domain.Message, string) (string, error) {
		return "pong", nil
	})
	return s
}

// Register adds or replaces the command /name
func (s *CommandService) Register(name, description string, run CommandFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[strings.ToLower(name)] = command{description: description, run: run}
}

// OnCommandCompleted registers the callback receiving command results
func (s *CommandService) OnCommandCompleted(handler func(result domain.CommandResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// TryEnqueueCommand starts the command carried by msg.
// Returns false when the command is unknown.
func (s *CommandService) TryEnqueueCommand(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("%w: nil message", domain.ErrInvalidArgument)
	}

	name, args := parseCommand(msg.Text)
	s.mu.RLock()
	cmd, ok := s.commands[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), name, cmd, msg, args)
	}()
	return true, nil
}

// Wait blocks until all started commands have completed
func (s *CommandService) Wait() {
	s.wg.Wait()
}

func (s *CommandService) run(ctx context.Context, name string, cmd command, msg *domain.Message, args string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("command", name).Interface("panic", r).Msg("command panicked")
		}
	}()

	text, err := cmd.run(ctx, msg, args)
	if err != nil {
		s.log.Error().Err(err).Str("command", name).Msg("command failed")
		text = fmt.Sprintf("Command '/%s' failed", name)
	}
	if text == "" {
		return
	}

	result := domain.CommandResult{ChatIDForAnswer: msg.ChatID, Text: text}
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(result)
	}
}

func (s *CommandService) help(context.Context, *domain.Message, string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n/%s - %s", name, s.commands[name].description)
	}
	return b.String(), nil
}

// parseCommand splits "/Name@bot some args" into ("name", "some args")
func parseCommand(text string) (name, args string) {
	text = strings.TrimSpace(text)
	token, rest, _ := strings.Cut(text, " ")
	token = strings.TrimPrefix(token, "/")
	token, _, _ = strings.Cut(token, "@")
	return strings.ToLower(token), strings.TrimSpace(rest)
}
