package services

import (
	"context"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"

	"gorm.io/gorm"
)

type transactionKey struct{}

// GetTransaction returns the transaction bound to ctx, if any. Repositories
// call this so writes join an enclosing transaction transparently.
func GetTransaction(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*gorm.DB)
	return tx, ok
}

type TransactionService struct {
	db  database.DB
	log logger.Logger
}

func NewTransactionService(db database.DB) *TransactionService {
	return &TransactionService{
		db:  db,
		log: logger.New("TransactionService"),
	}
}

// WithTransaction runs fn with a transaction bound into the context, so every
// repository call inside fn shares it. Commit on nil, rollback on error or
// panic.
func (s *TransactionService) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	log := s.log.Function("WithTransaction")

	tx := s.db.SQLWithContext(ctx).Begin()
	if tx.Error != nil {
		return log.Err("failed to begin transaction", tx.Error)
	}

	txCtx := context.WithValue(ctx, transactionKey{}, tx)

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return log.Err("failed to commit transaction", err)
	}

	return nil
}
