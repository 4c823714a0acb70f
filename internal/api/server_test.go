package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

type fakeOracle struct {
	err      error
	table    string
	raw      string
	cards    []int
	handID   uint64
	sig      string
	messages []string
}

func (f *fakeOracle) Pay(ctx context.Context, table, raw string) (*oracle.Result, error) {
	f.table, f.raw = table, raw
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Result{Kind: oracle.ResultCards, Cards: []int{4, 5}}, nil
}

func (f *fakeOracle) Info(ctx context.Context, table string) (*models.HandView, error) {
	f.table = table
	if f.err != nil {
		return nil, f.err
	}
	return &models.HandView{TableAddr: table, HandID: 3, State: models.StatePreflop, Cards: []int{}}, nil
}

func (f *fakeOracle) Show(ctx context.Context, table, raw string, cards []int) (*oracle.Result, error) {
	f.table, f.raw, f.cards = table, raw, cards
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Result{Kind: oracle.ResultEmpty}, nil
}

func (f *fakeOracle) Leave(ctx context.Context, table, raw string) (*oracle.Result, error) {
	f.table, f.raw = table, raw
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Result{Kind: oracle.ResultEmpty}, nil
}

func (f *fakeOracle) Netting(ctx context.Context, table string, handID uint64, sig string) error {
	f.table, f.handID, f.sig = table, handID, sig
	return f.err
}

func (f *fakeOracle) Timeout(ctx context.Context, table string) (*oracle.Result, error) {
	f.table = table
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Result{Kind: oracle.ResultEmpty}, nil
}

func (f *fakeOracle) GetHand(ctx context.Context, table string, handID uint64) (*models.HandView, error) {
	f.table, f.handID = table, handID
	if f.err != nil {
		return nil, f.err
	}
	return &models.HandView{TableAddr: table, HandID: handID, Cards: []int{}}, nil
}

func (f *fakeOracle) HandleMessage(ctx context.Context, raw string) error {
	f.messages = append(f.messages, raw)
	return f.err
}

type fakeReservations struct {
	reserved []models.Reservation
	timeout  time.Duration
}

func (f *fakeReservations) Reserve(ctx context.Context, table string, pos int, signer, txHash string, amount int64) (*models.Reservation, error) {
	if pos == 0 {
		return nil, &oracle.Error{Kind: oracle.KindConflict, Msg: "seat 0 is taken."}
	}
	res := models.Reservation{TableAddr: table, Pos: pos, SignerAddr: signer, TxHash: txHash, Amount: amount}
	f.reserved = append(f.reserved, res)
	return &res, nil
}

func (f *fakeReservations) List(ctx context.Context, table string) ([]models.Reservation, error) {
	return f.reserved, nil
}

func (f *fakeReservations) Cleanup(ctx context.Context, timeout time.Duration) ([]models.Reservation, error) {
	f.timeout = timeout
	return nil, nil
}

type fakeDatabase struct {
	err error
}

func (f fakeDatabase) Ping(ctx context.Context) error { return f.err }

func newTestServer(o *fakeOracle, res *fakeReservations, db Pinger) *httptest.Server {
	s := NewServer(0, Deps{
		Oracle:             o,
		Reservations:       res,
		Database:           db,
		ReservationTimeout: time.Minute,
	})
	return httptest.NewServer(s.Handler())
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestServer_OracleRoutes(t *testing.T) {
	o := &fakeOracle{}
	srv := newTestServer(o, &fakeReservations{}, nil)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodPost, "/tables/CT1/pay", `{"receipt":"abc.def"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", resp.StatusCode)
	}
	if o.table != "CT1" || o.raw != "abc.def" {
		t.Errorf("Expected pay for CT1 with receipt, got: %s %s", o.table, o.raw)
	}
	if body["kind"] != "cards" {
		t.Errorf("Expected cards result, got: %v", body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/tables/CT1/show", `{"receipt":"r","cards":[7,8]}`)
	if resp.StatusCode != http.StatusOK || len(o.cards) != 2 || o.cards[1] != 8 {
		t.Errorf("Expected show with cards [7 8], got: %d %v", resp.StatusCode, o.cards)
	}

	resp, body = do(t, srv, http.MethodGet, "/tables/CT2/info", "")
	if resp.StatusCode != http.StatusOK || body["handId"] != float64(3) {
		t.Errorf("Expected hand 3 info, got: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodGet, "/tables/CT2/hands/7", "")
	if resp.StatusCode != http.StatusOK || body["handId"] != float64(7) {
		t.Errorf("Expected hand 7, got: %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/tables/CT2/hands/7/netting", `{"nettingSig":"sig"}`)
	if resp.StatusCode != http.StatusOK || o.handID != 7 || o.sig != "sig" {
		t.Errorf("Expected netting for hand 7, got: %d %d %s", resp.StatusCode, o.handID, o.sig)
	}

	resp, _ = do(t, srv, http.MethodPost, "/messages", `{"msgReceipt":"m"}`)
	if resp.StatusCode != http.StatusOK || len(o.messages) != 1 {
		t.Errorf("Expected message relayed, got: %d %v", resp.StatusCode, o.messages)
	}

	resp, _ = do(t, srv, http.MethodPost, "/tables/CT3/timeout", "")
	if resp.StatusCode != http.StatusOK || o.table != "CT3" {
		t.Errorf("Expected timeout for CT3, got: %d %s", resp.StatusCode, o.table)
	}

	resp, _ = do(t, srv, http.MethodPost, "/tables/CT3/leave", `{"receipt":"leave"}`)
	if resp.StatusCode != http.StatusOK || o.raw != "leave" {
		t.Errorf("Expected leave receipt, got: %d %s", resp.StatusCode, o.raw)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", &oracle.Error{Kind: oracle.KindBadRequest, Msg: "not your turn."}, http.StatusBadRequest},
		{"unauthorized", &oracle.Error{Kind: oracle.KindUnauthorized, Msg: "invalid signature."}, http.StatusUnauthorized},
		{"forbidden", &oracle.Error{Kind: oracle.KindForbidden, Msg: "can not bet more than balance."}, http.StatusForbidden},
		{"not found", &oracle.Error{Kind: oracle.KindNotFound, Msg: "hand 9 not found."}, http.StatusNotFound},
		{"conflict", &oracle.Error{Kind: oracle.KindConflict, Msg: "update conflict."}, http.StatusConflict},
		{"infrastructure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeOracle{err: tt.err}, &fakeReservations{}, nil)
			defer srv.Close()

			resp, body := do(t, srv, http.MethodPost, "/tables/CT1/pay", `{"receipt":"x"}`)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got: %d", tt.want, resp.StatusCode)
			}
			if body["code"] != float64(tt.want) {
				t.Errorf("Expected code %d in body, got: %v", tt.want, body["code"])
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(body["message"].(string), "connection") {
				t.Errorf("Expected infrastructure error to be hidden, got: %v", body["message"])
			}
			if tt.want != http.StatusInternalServerError && body["message"] != tt.err.Error() {
				t.Errorf("Expected message %q, got: %v", tt.err.Error(), body["message"])
			}
		})
	}
}

func TestServer_RequestValidation(t *testing.T) {
	srv := newTestServer(&fakeOracle{}, &fakeReservations{}, nil)
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/tables/CT1/pay", `{`, http.StatusBadRequest},
		{"bad hand id", http.MethodGet, "/tables/CT1/hands/abc", "", http.StatusBadRequest},
		{"bad seat", http.MethodPost, "/tables/CT1/seats/-1/reserve", `{}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/tables/CT1/info", "", http.StatusMethodNotAllowed},
		{"websocket disabled", http.MethodGet, "/tables/CT1/ws", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got: %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestServer_Reservations(t *testing.T) {
	res := &fakeReservations{}
	srv := newTestServer(&fakeOracle{}, res, nil)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodPost, "/tables/CT1/seats/2/reserve", `{"signerAddr":"GA","txHash":"tx","amount":300}`)
	if resp.StatusCode != http.StatusOK || body["pos"] != float64(2) {
		t.Fatalf("Expected reservation of seat 2, got: %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/tables/CT1/seats/0/reserve", `{"signerAddr":"GA","txHash":"tx","amount":300}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for taken seat, got: %d", resp.StatusCode)
	}

	resp, body = do(t, srv, http.MethodGet, "/tables/CT1/reservations", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", resp.StatusCode)
	}
	if _, ok := body["2"]; !ok {
		t.Errorf("Expected reservations keyed by seat, got: %v", body)
	}

	resp, body = do(t, srv, http.MethodPost, "/reservations/cleanup", "")
	if resp.StatusCode != http.StatusOK || body["total"] != float64(0) {
		t.Errorf("Expected empty cleanup, got: %d %v", resp.StatusCode, body)
	}
	if res.timeout != time.Minute {
		t.Errorf("Expected configured cleanup timeout, got: %v", res.timeout)
	}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		want     int
		database string
	}{
		{"healthy", fakeDatabase{}, http.StatusOK, "connected"},
		{"database down", fakeDatabase{err: errors.New("down")}, http.StatusServiceUnavailable, "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeOracle{}, &fakeReservations{}, tt.db)
			defer srv.Close()

			resp, body := do(t, srv, http.MethodGet, "/health", "")
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got: %d", tt.want, resp.StatusCode)
			}
			if body["database"] != tt.database {
				t.Errorf("Expected database %s, got: %v", tt.database, body["database"])
			}
		})
	}
}

func TestServer_HealthReportsRPC(t *testing.T) {
	s := NewServer(0, Deps{
		Oracle:       &fakeOracle{},
		Reservations: &fakeReservations{},
		Database:     fakeDatabase{},
		RPC:          fakeDatabase{err: errors.New("timeout")},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected RPC failure to keep the service healthy, got: %d", resp.StatusCode)
	}
	if body["rpc"] != "unreachable" {
		t.Errorf("Expected rpc unreachable, got: %v", body["rpc"])
	}
}
