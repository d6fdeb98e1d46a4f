package channel

// Canned channel responses. Every string shown to a channel in an ambiguous,
// unauthorized or unknown-sender situation comes from this fixed set: no
// organization names, no counts, no roles. This is the primary defense
// against tenant enumeration through a chat surface.
const (
	// ResponseAmbiguous is sent when no cascade rule resolves a workspace.
	ResponseAmbiguous = "I couldn't determine which workspace to use. Generate a binding code from your workspace settings and reply here with: bind code NNNNNN"

	// ResponseInvalidCode is sent for every failed code redemption,
	// whatever the actual cause.
	ResponseInvalidCode = "That code is invalid or has expired. Generate a new one from your workspace settings."

	// ResponseBound confirms a successful redemption without naming the
	// workspace.
	ResponseBound = "Done. This conversation is now linked to your workspace."

	// ResponseWorkspaceSet confirms an active binding exists for this
	// conversation.
	ResponseWorkspaceSet = "This conversation is linked to a workspace. To switch, generate a binding code from your workspace settings and reply: bind code NNNNNN"

	// ResponseUnknownSender is sent when the sender cannot be associated
	// with any user.
	ResponseUnknownSender = "I don't recognize this account. Link it from your workspace settings."
)
