package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/itchan-dev/itchat/backend/internal/service"
	"github.com/itchan-dev/itchat/shared/config"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
	sharedpg "github.com/itchan-dev/itchat/shared/storage/pg"

	"github.com/lib/pq"
)

//go:embed migrations/init.sql
var schema string

// Querier lets the internal methods run on the pool or inside a transaction.
type Querier = sharedpg.Querier

var (
	_ service.Storage            = (*Storage)(nil)
	_ service.PollMessageCreator = (*Storage)(nil)
	_ service.ChangeFeed         = (*ChangeFeed)(nil)
)

type Storage struct {
	db  *sql.DB
	cfg *config.Config
}

func New(cfg *config.Config) (*Storage, error) {
	logger.Log.Info("connecting to database",
		"component", "pg",
		"host", cfg.Private.Pg.Host,
		"dbname", cfg.Private.Pg.Dbname)
	db, err := sharedpg.Connect(cfg.Private.Pg, sharedpg.DefaultConnectionConfig())
	if err != nil {
		return nil, err
	}
	logger.Log.Info("connected to database", "component", "pg")
	return &Storage{db: db, cfg: cfg}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return sharedpg.WithTx(ctx, s.db, fn)
}

// classify maps driver errors onto the error taxonomy. Anything it does not
// recognize becomes a TransportError.
func classify(err error, entity, id, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &internal_errors.NotFoundError{Entity: entity, Id: id}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return &internal_errors.ConflictError{Entity: entity, Err: err}
		case "22P02", "23503": // malformed uuid, dangling reference
			return &internal_errors.NotFoundError{Entity: entity, Id: id}
		}
	}
	return internal_errors.Transport("failed to "+op, err)
}
