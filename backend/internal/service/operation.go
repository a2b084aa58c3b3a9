package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itchan-dev/itchat/shared/domain"
	"github.com/itchan-dev/itchat/shared/logger"
)

type OpKind string

const (
	OpSendText       OpKind = "send_text"
	OpSendAttachment OpKind = "send_attachment"
	OpSendPoll       OpKind = "send_poll"
	OpVote           OpKind = "vote"
	OpBlock          OpKind = "block"
	OpUnblock        OpKind = "unblock"
)

// Operation is one optimistic mutation. It starts Pending and moves exactly
// once to Committed, RolledBack or PartiallyCommitted.
type Operation struct {
	Id         string
	Kind       OpKind
	ThreadId   domain.ThreadId
	State      domain.OpState
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type operations struct {
	mu      sync.Mutex
	pending map[string]*Operation
}

func newOperations() *operations {
	return &operations{pending: make(map[string]*Operation)}
}

func (o *operations) begin(kind OpKind, threadId domain.ThreadId) *Operation {
	op := &Operation{
		Id:        uuid.NewString(),
		Kind:      kind,
		ThreadId:  threadId,
		State:     domain.Pending,
		StartedAt: time.Now(),
	}
	o.mu.Lock()
	o.pending[op.Id] = op
	o.mu.Unlock()
	return op
}

func (o *operations) finish(op *Operation, state domain.OpState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op.State != domain.Pending {
		logger.Log.Warn("operation already settled",
			"component", "send_pipeline",
			"op_id", op.Id,
			"state", op.State,
			"requested", state)
		return
	}
	op.State = state
	op.Err = err
	op.FinishedAt = time.Now()
	delete(o.pending, op.Id)
	optimisticOpsTotal.WithLabelValues(string(op.Kind), state.String()).Inc()
}

func (o *operations) snapshot() []Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Operation, 0, len(o.pending))
	for _, op := range o.pending {
		out = append(out, *op)
	}
	return out
}
