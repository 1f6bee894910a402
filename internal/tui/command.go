package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Composer commands. Input starting with '/' is parsed as one of these.
const (
	CmdReply  = "reply"
	CmdImage  = "image"
	CmdRetry  = "retry"
	CmdDelete = "delete"
	CmdReport = "report"
	CmdSearch = "search"
	CmdLeave  = "leave"
	CmdHelp   = "help"
)

// CommandHelp is shown by /help.
const CommandHelp = "/reply <id> <text>  /image [caption]  /retry  /delete <id>  /report <id> <reason>  /search [text]  /leave"

var errMissingID = errors.New("message id required")

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading '/').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// IDArg splits Args into a leading message id and the remaining text.
// A '#' prefix on the id is accepted, matching how ids are displayed.
func (c Command) IDArg() (int64, string, error) {
	if c.Args == "" {
		return 0, "", errMissingID
	}
	head, rest, _ := strings.Cut(c.Args, " ")
	id, err := strconv.ParseInt(strings.TrimPrefix(head, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("invalid message id %q", head)
	}
	return id, strings.TrimSpace(rest), nil
}
