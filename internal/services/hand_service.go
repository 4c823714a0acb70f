package services

import (
	"context"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/models"
)

// TimeoutService applies the inactivity timeout to a table
type TimeoutService struct {
	oracle Oracle
}

func NewTimeoutService(o Oracle) *TimeoutService {
	return &TimeoutService{oracle: o}
}

func (s *TimeoutService) Name() string { return "TimeoutService" }

func (s *TimeoutService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindTimeout {
		return nil
	}
	rsp, err := s.oracle.Timeout(ctx, n.Table())
	if err != nil {
		return rejected(s.Name(), n, err)
	}
	slog.Info("Timeout applied", "table", n.Table(), "result", rsp.Kind)
	return nil
}

// HandCompleteService signs the outcome of a finished hand and opens the next one
type HandCompleteService struct {
	oracle Oracle
}

func NewHandCompleteService(o Oracle) *HandCompleteService {
	return &HandCompleteService{oracle: o}
}

func (s *HandCompleteService) Name() string { return "HandCompleteService" }

func (s *HandCompleteService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindHandComplete {
		return nil
	}
	var payload bus.HandPayload
	if err := decode(n, &payload); err != nil {
		return err
	}
	return rejected(s.Name(), n, s.oracle.CompleteHand(ctx, n.Table(), payload.HandID))
}

// KickService signs leaves for seats that sat out too long
type KickService struct {
	oracle Oracle
}

func NewKickService(o Oracle) *KickService {
	return &KickService{oracle: o}
}

func (s *KickService) Name() string { return "KickService" }

func (s *KickService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindKick {
		return nil
	}
	var payload bus.KickPayload
	if err := decode(n, &payload); err != nil {
		return err
	}
	return rejected(s.Name(), n, s.oracle.Kick(ctx, n.Table(), payload.Pos))
}
