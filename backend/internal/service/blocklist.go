package service

import (
	"context"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
)

// BlockList keeps the actor's outgoing block edges in memory so stream and
// directory filtering never hit the store.
type BlockList struct {
	storage        BlockStorage
	actor          domain.UserId
	blocked        map[domain.UserId]bool
	mu             sync.RWMutex
	lastUpdateTime time.Time
}

func NewBlockList(storage BlockStorage, actor domain.UserId) *BlockList {
	return &BlockList{
		storage: storage,
		actor:   actor,
		blocked: make(map[domain.UserId]bool),
	}
}

// Update replaces the in-memory set with the stored edges.
func (b *BlockList) Update(ctx context.Context) error {
	userIds, err := b.storage.BlockedUsers(ctx, b.actor)
	if err != nil {
		return internal_errors.Transport("load block list", err)
	}

	fresh := make(map[domain.UserId]bool, len(userIds))
	for _, id := range userIds {
		fresh[id] = true
	}

	b.mu.Lock()
	b.blocked = fresh
	b.lastUpdateTime = time.Now()
	b.mu.Unlock()

	logger.Log.Debug("block list updated",
		"component", "block_list",
		"actor", b.actor,
		"entries", len(fresh))
	return nil
}

func (b *BlockList) IsBlocked(userId domain.UserId) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blocked[userId]
}

func (b *BlockList) Blocked() []domain.UserId {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.UserId, 0, len(b.blocked))
	for id := range b.blocked {
		out = append(out, id)
	}
	return out
}

// add and remove flip the local set and report whether anything changed.
func (b *BlockList) add(userId domain.UserId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocked[userId] {
		return false
	}
	b.blocked[userId] = true
	return true
}

func (b *BlockList) remove(userId domain.UserId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.blocked[userId] {
		return false
	}
	delete(b.blocked, userId)
	return true
}

// Block records the edge locally first and in the store second. A failed
// write removes the local edge again.
func (b *BlockList) Block(ctx context.Context, target domain.UserId) error {
	if target == b.actor {
		return &internal_errors.ValidationError{Message: "cannot block yourself"}
	}
	added := b.add(target)
	if err := b.persistBlock(ctx, target); err != nil {
		if added {
			b.remove(target)
		}
		return err
	}
	return nil
}

func (b *BlockList) Unblock(ctx context.Context, target domain.UserId) error {
	removed := b.remove(target)
	if err := b.persistUnblock(ctx, target); err != nil {
		if removed {
			b.add(target)
		}
		return err
	}
	return nil
}

func (b *BlockList) persistBlock(ctx context.Context, target domain.UserId) error {
	edge := domain.BlockEdge{BlockedBy: b.actor, BlockedUserId: target, CreatedAt: time.Now()}
	return internal_errors.Transport("block user", b.storage.BlockUser(ctx, edge))
}

func (b *BlockList) persistUnblock(ctx context.Context, target domain.UserId) error {
	return internal_errors.Transport("unblock user", b.storage.UnblockUser(ctx, b.actor, target))
}

// StartBackgroundUpdate periodically refreshes the set so edges written
// from another session show up.
func (b *BlockList) StartBackgroundUpdate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Debug("started block list background updates",
		"component", "block_list",
		"actor", b.actor,
		"interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.Update(ctx); err != nil {
					logger.Log.Warn("block list update failed",
						"component", "block_list",
						"actor", b.actor,
						"error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
