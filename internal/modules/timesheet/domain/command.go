package domain

import (
	"fmt"
	"strings"
)

type Verb string

const (
	VerbLogin     Verb = "login"
	VerbLogout    Verb = "logout"
	VerbAddEntry  Verb = "addEntry"
	VerbConfigure Verb = "configure"
	VerbStatus    Verb = "status"
	VerbHelp      Verb = "help"
)

const (
	ReplyEmpty            = "No command provided."
	ReplyInvalid          = "Invalid command."
	ReplyLoggedIn         = "Successfully logged in."
	ReplyLoginFailed      = "Failed to log in."
	ReplyLoggedOut        = "Successfully logged out."
	ReplyEntryAdded       = "Successfully added entry."
	ReplyEntryFailed      = "Failed to add entry."
	ReplyEntryAlreadyDone = "Entry already added today."
	ReplyNotAuthenticated = `User not authenticated. Use "login" command before.`
	ReplyConfigSaved      = "Configuration saved."
	ReplyConfigFailed     = "Failed to save configuration."
)

var verbs = map[Verb]struct {
	arity int
	usage string
}{
	VerbLogin:     {arity: 2, usage: "login <username> <password>"},
	VerbLogout:    {arity: 0, usage: "logout"},
	VerbAddEntry:  {arity: 0, usage: "addEntry"},
	VerbConfigure: {arity: 3, usage: "configure <start> <duration> <trigger>"},
	VerbStatus:    {arity: 0, usage: "status"},
	VerbHelp:      {arity: 0, usage: "help"},
}

var verbOrder = []Verb{VerbLogin, VerbLogout, VerbAddEntry, VerbConfigure, VerbStatus, VerbHelp}

type Command struct {
	Verb Verb
	Args []string
}

func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}
	verb := Verb(fields[0])
	def, ok := verbs[verb]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrInvalidCommand, fields[0])
	}
	args := fields[1:]
	if len(args) != def.arity {
		return Command{Verb: verb}, fmt.Errorf("%w: usage: %s", ErrWrongArity, def.usage)
	}
	return Command{Verb: verb, Args: args}, nil
}

func Usage(verb Verb) string {
	return verbs[verb].usage
}

// AddEntryReplies lists every reply addEntry can produce, including the
// once-per-day refusal.
var AddEntryReplies = []string{ReplyEntryAdded, ReplyEntryFailed, ReplyNotAuthenticated, ReplyEntryAlreadyDone}

func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, verb := range verbOrder {
		b.WriteString("\n\t")
		b.WriteString(verbs[verb].usage)
	}
	b.WriteString("\naddEntry replies with one of:")
	for _, reply := range AddEntryReplies {
		b.WriteString("\n\t")
		b.WriteString(reply)
	}
	return b.String()
}

func TimeFormatReply(field Field) string {
	return fmt.Sprintf("Wrong time format for [%s].", field)
}
