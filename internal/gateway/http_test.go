package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{
		BaseURL:         srv.URL + "/",
		APIKey:          "key-1",
		Email:           "ops@example.com",
		InitiateTimeout: time.Second,
		StatusTimeout:   time.Second,
	}, zap.NewNop())
}

func TestInitiateSendsHeadersAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/initiate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key-1" || r.Header.Get("X-Email") != "ops@example.com" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var body initiateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Phone != "254712345678" || body.Amount != 99 || body.Reference != "FEE-1" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.Write([]byte(`{"success":true,"transaction_reference":"GW-1"}`))
	})

	res, err := c.Initiate(context.Background(), InitiateRequest{Phone: "254712345678", Amount: decimal.NewFromInt(99), Reference: "FEE-1"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.TransactionReference != "GW-1" {
		t.Fatalf("got %+v", res)
	}
}

func TestInitiateRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid phone"}}`))
	})
	_, err := c.Initiate(context.Background(), InitiateRequest{Phone: "1", Amount: decimal.NewFromInt(1)})
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Message != "invalid phone" || rej.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected chain")
	}
}

func TestInitiateSuccessFalse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"insufficient funds"}`))
	})
	_, err := c.Initiate(context.Background(), InitiateRequest{Amount: decimal.NewFromInt(1)})
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Message != "insufficient funds" {
		t.Fatalf("got %v", err)
	}
}

func TestQueryStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/status/GW-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"status":"completed","amount":99,"mobile_number":"254712345678","mpesa_receipt_number":"QWE123"}}`))
	})
	st, err := c.QueryStatus(context.Background(), "GW-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != "completed" || st.MpesaReceiptNumber != "QWE123" || !st.Amount.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("got %+v", st)
	}
}

func TestQueryStatusTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.cfg.StatusTimeout = 20 * time.Millisecond
	if _, err := c.QueryStatus(context.Background(), "GW-1"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestExtractMessage(t *testing.T) {
	cases := map[string]string{
		`{"message":"bad"}`:         "bad",
		`{"error":"nope"}`:          "nope",
		`not json`:                  "not json",
		``:                          "unknown gateway error",
		`{"detail":"rate limited"}`: "rate limited",
	}
	for in, want := range cases {
		if got := ExtractMessage([]byte(in)); got != want {
			t.Fatalf("ExtractMessage(%q) = %q, want %q", in, got, want)
		}
	}
}
