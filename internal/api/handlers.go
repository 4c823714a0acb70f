package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapdao/acebusters-backend/internal/models"
)

type receiptRequest struct {
	Receipt string `json:"receipt"`
}

type showRequest struct {
	Receipt string `json:"receipt"`
	Cards   []int  `json:"cards"`
}

type nettingRequest struct {
	NettingSig string `json:"nettingSig"`
}

type messageRequest struct {
	MsgReceipt string `json:"msgReceipt"`
}

type reserveRequest struct {
	SignerAddr string `json:"signerAddr"`
	TxHash     string `json:"txHash"`
	Amount     int64  `json:"amount"`
}

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":     "Acebusters Oracle",
		"version":     "1.0.0",
		"description": "Off-chain poker oracle for Soroban table contracts",
		"endpoints": map[string]string{
			"GET /":                                      "This page - Service information",
			"GET /health":                                "Health check endpoint",
			"GET /metrics":                               "Prometheus metrics for monitoring",
			"POST /tables/{table}/pay":                   "Submit a signed bet, fold, check or sitout receipt",
			"GET /tables/{table}/info":                   "Latest hand of a table",
			"POST /tables/{table}/show":                  "Show or muck at showdown",
			"POST /tables/{table}/leave":                 "Submit a signed leave receipt",
			"POST /tables/{table}/timeout":               "Apply the inactivity timeout",
			"GET /tables/{table}/hands/{handId}":         "Hand by id",
			"POST /tables/{table}/hands/{handId}/netting": "Submit a netting signature",
			"GET /tables/{table}/ws":                     "Real-time table channel",
			"GET /tables/{table}/reservations":           "Seat reservations of a table",
			"POST /tables/{table}/seats/{pos}/reserve":   "Reserve a seat",
			"POST /reservations/cleanup":                 "Drop expired reservations",
			"POST /messages":                             "Relay a signed chat message",
		},
	}

	s.writeJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   "acebusters-oracle",
		Database:  "connected",
	}

	code := http.StatusOK
	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(r.Context()); err != nil {
			health.Status = "unhealthy"
			health.Database = "disconnected"
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.RPC != nil {
		health.RPC = "reachable"
		if err := s.deps.RPC.Ping(r.Context()); err != nil {
			health.RPC = "unreachable"
			slog.Warn("RPC health probe failed", "error", err)
		}
	}

	s.writeJSON(w, code, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// ORACLE ENDPOINTS
// =============================================================================

// handlePay accepts a bet, fold, check or sitout receipt
// POST /tables/{table}/pay {"receipt": "..."}
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rsp, err := s.deps.Oracle.Pay(r.Context(), chi.URLParam(r, "table"), req.Receipt)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rsp)
}

// handleInfo returns the latest hand
// GET /tables/{table}/info
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Oracle.Info(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleShow accepts a show or muck receipt with the disclosed hole cards
// POST /tables/{table}/show {"receipt": "...", "cards": [1, 2]}
func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req showRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rsp, err := s.deps.Oracle.Show(r.Context(), chi.URLParam(r, "table"), req.Receipt, req.Cards)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rsp)
}

// handleLeave accepts a leave receipt
// POST /tables/{table}/leave {"receipt": "..."}
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rsp, err := s.deps.Oracle.Leave(r.Context(), chi.URLParam(r, "table"), req.Receipt)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rsp)
}

// handleTimeout applies the inactivity timeout to the latest hand
// POST /tables/{table}/timeout
func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	rsp, err := s.deps.Oracle.Timeout(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rsp)
}

// handleGetHand returns a hand by id
// GET /tables/{table}/hands/{handId}
func (s *Server) handleGetHand(w http.ResponseWriter, r *http.Request) {
	handID, err := uintParam(r, "handId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := s.deps.Oracle.GetHand(r.Context(), chi.URLParam(r, "table"), handID)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleNetting records a player's netting signature
// POST /tables/{table}/hands/{handId}/netting {"nettingSig": "..."}
func (s *Server) handleNetting(w http.ResponseWriter, r *http.Request) {
	handID, err := uintParam(r, "handId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req nettingRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.deps.Oracle.Netting(r.Context(), chi.URLParam(r, "table"), handID, req.NettingSig); err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMessage relays a signed chat message to the table channel
// POST /messages {"msgReceipt": "..."}
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.deps.Oracle.HandleMessage(r.Context(), req.MsgReceipt); err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSubscribe upgrades to the table's real-time channel
// GET /tables/{table}/ws
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		s.sendError(w, "Real-time channel disabled", http.StatusNotFound)
		return
	}
	s.deps.Subscriptions.ServeWS(w, r, chi.URLParam(r, "table"))
}

// =============================================================================
// RESERVATION ENDPOINTS
// =============================================================================

// handleReserve reserves an empty seat
// POST /tables/{table}/seats/{pos}/reserve {"signerAddr": "G...", "txHash": "...", "amount": 100}
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	pos, err := uintParam(r, "pos")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req reserveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.deps.Reservations.Reserve(r.Context(), chi.URLParam(r, "table"), int(pos), req.SignerAddr, req.TxHash, req.Amount)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleListReservations lists reservations keyed by seat
// GET /tables/{table}/reservations
func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Reservations.List(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}

	bySeat := make(map[int]models.Reservation, len(list))
	for _, res := range list {
		bySeat[res.Pos] = res
	}
	s.writeJSON(w, http.StatusOK, bySeat)
}

// handleCleanup drops expired reservations
// POST /reservations/cleanup
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	dropped, err := s.deps.Reservations.Cleanup(r.Context(), s.deps.ReservationTimeout)
	if err != nil {
		s.sendOracleError(w, r, err)
		return
	}
	if dropped == nil {
		dropped = []models.Reservation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dropped": dropped,
		"total":   len(dropped),
	})
}
