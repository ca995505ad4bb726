package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/auth"
	"github.com/sudo-init-do/mkopo/internal/config"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/payments/initiate":
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true, "transaction_reference": "GW-" + in["reference"].(string), "message": "STK push sent",
			})
		case strings.HasPrefix(r.URL.Path, "/payments/status/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"status": "pending"}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(gatewayURL string) *config.Config {
	return &config.Config{
		Env:               "test",
		StoreDriver:       "memory",
		PollDriver:        "local",
		Gateway:           config.GatewayConfig{BaseURL: gatewayURL, APIKey: "k", Email: "ops@example.com"},
		Poll:              config.PollConfig{Interval: time.Hour, MaxInterval: time.Hour, MaxAttempts: 3},
		DefaultLoanAmount: decimal.NewFromInt(5000),
		MinWithdrawal:     decimal.NewFromInt(100),
		AdminUsername:     "ops",
	}
}

func call(t *testing.T, h http.Handler, method, path, body, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestEndToEndPayCallbackWithdraw(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()
	a, err := New(ctx, testConfig(gw.URL), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	e := a.Router()

	if code, _ := call(t, e, http.MethodGet, "/ready", "", ""); code != http.StatusOK {
		t.Fatalf("ready = %d", code)
	}

	code, out := call(t, e, http.MethodPost, "/pay", `{"phone":"0712345678","amount":50}`, "")
	if code != http.StatusOK {
		t.Fatalf("pay = %d %v", code, out)
	}
	ref := out["reference"].(string)
	if a.registry.Active() != 1 {
		t.Fatalf("active polls = %d", a.registry.Active())
	}

	code, out = call(t, e, http.MethodPost, "/callback",
		`{"data":{"CheckoutRequestID":"GW-`+ref+`","ResultCode":0,"MpesaReceiptNumber":"QWE123"}}`, "")
	if code != http.StatusOK || out["ResultDesc"] != "Accepted" {
		t.Fatalf("callback = %d %v", code, out)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.registry.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.registry.Active() != 0 {
		t.Fatal("settlement should stop polling")
	}

	_, out = call(t, e, http.MethodGet, "/receipt/"+ref, "", "")
	r := out["receipt"].(map[string]any)
	if r["status"] != "completed" || r["mpesa_receipt_number"] != "QWE123" {
		t.Fatalf("receipt = %v", r)
	}

	code, out = call(t, e, http.MethodPost, "/withdraw", `{"phone":"254712345678","amount":5000}`, "")
	if code != http.StatusOK || out["balance"] != float64(0) {
		t.Fatalf("withdraw = %d %v", code, out)
	}

	if code, _ := call(t, e, http.MethodGet, "/admin/stats", "", ""); code != http.StatusNotFound {
		t.Fatalf("admin routes should be off without credentials, got %d", code)
	}
}

func TestAdminRoutesEnabled(t *testing.T) {
	gw := newGateway(t)
	cfg := testConfig(gw.URL)
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	cfg.AdminPasswordHash = hash
	cfg.JWTSecret = "secret"

	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	e := a.Router()

	if code, _ := call(t, e, http.MethodGet, "/admin/stats", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated stats = %d", code)
	}
	code, out := call(t, e, http.MethodPost, "/admin/login", `{"username":"ops","password":"s3cret"}`, "")
	if code != http.StatusOK {
		t.Fatalf("login = %d %v", code, out)
	}
	code, out = call(t, e, http.MethodGet, "/admin/stats", "", out["token"].(string))
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("stats = %d %v", code, out)
	}
}
