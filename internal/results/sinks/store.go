package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
)

// StoreSink persists results through a check.Repository.
type StoreSink struct {
	repo   check.Repository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo check.Repository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the result to the repository, respecting ctx deadlines.
func (s *StoreSink) Consume(ctx context.Context, result check.Result) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result %s: %w", result.Key(), err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
