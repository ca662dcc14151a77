package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/taskboard-auth/internal/pkg/log"
)

// CleanupExpired удаляет все истёкшие refresh-токены и возвращает их количество.
// Идемпотентна: повторный вызов просто ничего не находит.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	const op = "service.janitor.CleanupExpired"

	n, err := s.storage.DeleteExpiredTokens(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if s.recorder != nil {
		s.recorder.AddJanitorDeleted(n)
	}

	return n, nil
}

// RunJanitor периодически вызывает CleanupExpired до отмены ctx.
// period <= 0 отключает janitor. Блокирует; запускать в отдельной горутине.
func (s *Service) RunJanitor(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}

	lg := log.From(ctx)

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.CleanupExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				lg.Error("refresh_janitor_failed", slog.String("err", err.Error()))
				continue
			}

			if n > 0 {
				lg.Info("refresh_janitor_deleted", slog.Int64("count", n))
			}
		}
	}
}
