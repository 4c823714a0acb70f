package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/models"
)

// NettingRequestService prepares a netting for players to sign
type NettingRequestService struct {
	oracle Oracle
}

func NewNettingRequestService(o Oracle) *NettingRequestService {
	return &NettingRequestService{oracle: o}
}

func (s *NettingRequestService) Name() string { return "NettingRequestService" }

func (s *NettingRequestService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindTableNettingRequest {
		return nil
	}
	var payload bus.HandPayload
	if err := decode(n, &payload); err != nil {
		return err
	}
	return rejected(s.Name(), n, s.oracle.CreateNetting(ctx, n.Table(), payload.HandID))
}

// SettlementService submits fully signed nettings to the table contract
type SettlementService struct {
	gateway ledger.Gateway
}

func NewSettlementService(gateway ledger.Gateway) *SettlementService {
	return &SettlementService{gateway: gateway}
}

func (s *SettlementService) Name() string { return "SettlementService" }

func (s *SettlementService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindTableNettingComplete {
		return nil
	}
	var payload bus.NettingCompletePayload
	if err := decode(n, &payload); err != nil {
		return err
	}
	if payload.Netting == nil {
		return fmt.Errorf("%s without netting", n.Subject)
	}
	return s.gateway.SubmitSettlement(ctx, n.Table(), payload.Netting)
}

// ProgressNettingService closes a netting whose submission window is over
type ProgressNettingService struct {
	gateway ledger.Gateway
}

func NewProgressNettingService(gateway ledger.Gateway) *ProgressNettingService {
	return &ProgressNettingService{gateway: gateway}
}

func (s *ProgressNettingService) Name() string { return "ProgressNettingService" }

func (s *ProgressNettingService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindProgressNetting {
		return nil
	}
	return s.gateway.ProgressNetting(ctx, n.Table())
}

// DisputeService submits the oracle's receipts for the hands of an open netting request
type DisputeService struct {
	oracle  Oracle
	gateway ledger.Gateway
}

func NewDisputeService(o Oracle, gateway ledger.Gateway) *DisputeService {
	return &DisputeService{oracle: o, gateway: gateway}
}

func (s *DisputeService) Name() string { return "DisputeService" }

func (s *DisputeService) Process(ctx context.Context, n *models.Notification) error {
	if n.Kind() != bus.KindHandleDispute {
		return nil
	}
	var payload bus.DisputePayload
	if err := decode(n, &payload); err != nil {
		return err
	}

	receipts, err := s.oracle.DisputeReceipts(ctx, n.Table(), payload.LastHandNetted+1, payload.LastNettingRequest)
	if err != nil {
		return rejected(s.Name(), n, err)
	}
	if len(receipts) == 0 {
		slog.Debug("No receipts to dispute", "table", n.Table())
		return nil
	}
	return s.gateway.SubmitDispute(ctx, n.Table(), receipts)
}
