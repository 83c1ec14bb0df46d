package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rongwang/sot-gold-tracker/internal/service"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// Context is what a command sees of the chat platform: who invoked it and
// a way to answer.
type Context interface {
	UserID() string
	Username() string
	Reply(text string) error
}

type commandFunc func(ctx context.Context, c Context, args []string) (string, error)

type command struct {
	usage string
	run   commandFunc
}

// Dispatcher routes chat commands to the service layer and turns every
// outcome, errors included, into a reply.
type Dispatcher struct {
	svc      service.Service
	logger   *utils.Logger
	commands map[string]command
}

// NewDispatcher creates a Dispatcher with the built-in commands
func NewDispatcher(svc service.Service, logger *utils.Logger) *Dispatcher {
	d := &Dispatcher{svc: svc, logger: logger}
	d.commands = map[string]command{
		"help":        {"help", d.help},
		"gold":        {"gold [set <amount> [note] | history [n]]", d.gold},
		"session":     {"session [start <gold> [name] | cashin <amount> [note] | end <gold> | notes <text> | status | stats | history [n]]", d.session},
		"crew":        {"crew [create <name> [password] | join <name> [password] | leave <name> | list | info <name> | captain <name> <userId> | session <name> <gold> | cashin <name> <amount> [note] | summary <name>]", d.crew},
		"leaderboard": {"leaderboard [n]", d.leaderboard},
		"dbstatus":    {"dbstatus [admin password]", d.dbStatus},
	}
	return d
}

// Commands lists the registered command names
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one command and replies with its result. It never returns
// an error or panics into the platform loop: failures become replies.
func (d *Dispatcher) Execute(ctx context.Context, c Context, name string, args []string) {
	logger := d.logger.With("interaction_id", uuid.New().String(), "command", name, "user_id", c.UserID())

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Command panicked", "panic", fmt.Sprint(p))
			d.reply(logger, c, genericErrorMessage)
		}
	}()

	if _, err := d.svc.EnsureUser(ctx, c.UserID(), c.Username()); err != nil {
		logger.Error("Failed to register user", "error", err)
		d.reply(logger, c, UserMessage(err))
		return
	}

	cmd, ok := d.commands[strings.ToLower(name)]
	if !ok {
		d.reply(logger, c, fmt.Sprintf("Unknown command %q. Try help.", name))
		return
	}

	text, err := cmd.run(ctx, c, args)
	if err != nil {
		logger.Warn("Command failed", "error", err)
		d.reply(logger, c, UserMessage(err))
		return
	}
	d.reply(logger, c, text)
}

func (d *Dispatcher) reply(logger *utils.Logger, c Context, text string) {
	if err := c.Reply(text); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}

// usageError is returned for malformed arguments; its text is the reply.
type usageError struct {
	usage string
}

func (e *usageError) Error() string {
	return "Usage: " + e.usage
}

func (d *Dispatcher) usage(name string) error {
	return &usageError{usage: d.commands[name].usage}
}
