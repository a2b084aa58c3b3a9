package domain

import "time"

// BlockEdge hides BlockedUserId's content from BlockedBy. It is one-directional.
type BlockEdge struct {
	BlockedBy     UserId
	BlockedUserId UserId
	CreatedAt     time.Time
}
