package watch

import (
	"regexp"
	"strings"
)

// Command is one parsed watch-list request.
type Command interface{ command() }

// Add asks for names to be validated and tracked.
type Add struct{ Names []string }

// Remove asks for names to be untracked.
type Remove struct{ Names []string }

// List asks for the tracked names, optionally filtered by substring.
type List struct{ Filter string }

// Help is any request the grammar does not cover.
type Help struct{}

func (Add) command()    {}
func (Remove) command() {}
func (List) command()   {}
func (Help) command()   {}

// pattern builds the router pattern for keywords. Group 1 is the sub-command and
// group 2 its arguments.
func pattern(keywords []string) string {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return `!(?:` + strings.Join(quoted, "|") + `)(?:\s+(\S+)(?:\s+(.*))?)?`
}

// Parse turns a sub-command and its argument string into a Command.
func Parse(sub, args string) Command {
	names := strings.Fields(args)
	switch strings.ToLower(sub) {
	case "add":
		if len(names) == 0 {
			return Help{}
		}
		return Add{Names: names}
	case "rm", "remove", "del":
		if len(names) == 0 {
			return Help{}
		}
		return Remove{Names: names}
	case "ls", "list":
		return List{Filter: strings.TrimSpace(args)}
	default:
		return Help{}
	}
}
