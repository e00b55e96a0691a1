package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
)

// Run периодически перечитывает отслеживаемые незавершённые заказы от имени сервиса.
// Возвращается при отмене контекста.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration, actor model.Actor) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshBatch(ctx, actor)
		}
	}
}

func (s *Synchronizer) refreshBatch(ctx context.Context, actor model.Actor) {
	for _, orderID := range s.refreshable() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.refreshUnchecked(ctx, actor, orderID); err != nil {
			s.logger.Debug("background refresh failed", zap.Error(err), zap.String("order", orderID))
		}
	}
}

// refreshable возвращает заказы, которые имеет смысл перечитывать:
// незавершённые и без запросов в работе.
func (s *Synchronizer) refreshable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if len(e.pending) > 0 || status.IsTerminal(e.confirmed.Status) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
