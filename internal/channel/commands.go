package channel

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Command grammar recognized in inbound channel messages.
var (
	bindCodeRe = regexp.MustCompile(`(?i)^(?:bind\s+)?code\s+(\d{6})$`)
)

// CommandResult is what a channel adapter renders back to the sender. The
// Reply text always comes from the canned response set.
type CommandResult struct {
	Handled bool
	Reply   string
}

// HandleWorkspaceCommand interprets workspace-management commands in an
// inbound message. Unrecognized text returns Handled=false so the adapter
// can route the message on to normal processing.
//
// Recognized commands: "bind code NNNNNN" / "code NNNNNN" (redeem a binding
// code), "/workspace" (status query), "switch workspace" (always answers
// with the rebind instructions, forcing explicit re-authentication of tenant
// intent rather than guessing).
func (r *Resolver) HandleWorkspaceCommand(ctx context.Context, userID uuid.UUID, channel, identifier, threadID, text string) (*CommandResult, error) {
	trimmed := strings.TrimSpace(text)

	if m := bindCodeRe.FindStringSubmatch(trimmed); m != nil {
		_, err := r.UseBindingCode(ctx, userID, channel, identifier, threadID, m[1])
		if err != nil {
			if errors.Is(err, ErrInvalidCode) {
				return &CommandResult{Handled: true, Reply: ResponseInvalidCode}, nil
			}
			return nil, err
		}
		return &CommandResult{Handled: true, Reply: ResponseBound}, nil
	}

	switch strings.ToLower(trimmed) {
	case "/workspace":
		resolution, err := r.ResolveIncomingMessage(ctx, userID, channel, identifier, threadID)
		if err != nil {
			return nil, err
		}
		if resolution.Ambiguous {
			return &CommandResult{Handled: true, Reply: ResponseAmbiguous}, nil
		}
		return &CommandResult{Handled: true, Reply: ResponseWorkspaceSet}, nil

	case "switch workspace":
		return &CommandResult{Handled: true, Reply: ResponseAmbiguous}, nil
	}

	return &CommandResult{Handled: false}, nil
}
