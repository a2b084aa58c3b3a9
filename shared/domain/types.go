package domain

// Identifiers are opaque strings issued by the store (UUIDs for persisted
// rows, "tmp-" prefixed for local placeholders). They carry no ordering.
type (
	UserId     = string
	ScopeId    = string
	FacilityId = string

	ThreadId    = string
	ThreadTitle = string

	MsgId   = string
	MsgText = string

	PollId   = string
	OptionId = string
)
