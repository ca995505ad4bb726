package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/apperr"
	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

const testPhone = "254712345678"

type fakeGateway struct {
	InitiateFn func(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error)
	StatusFn   func(ctx context.Context, ref string) (*gateway.PaymentStatus, error)
}

func (g *fakeGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	if g.InitiateFn != nil {
		return g.InitiateFn(ctx, req)
	}
	return &gateway.InitiateResult{Success: true, TransactionReference: "GW-" + req.Reference}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, ref string) (*gateway.PaymentStatus, error) {
	if g.StatusFn != nil {
		return g.StatusFn(ctx, ref)
	}
	return &gateway.PaymentStatus{Status: "pending"}, nil
}

type recordingTracker struct {
	mu      sync.Mutex
	tracked []string
	stopped []string
}

func (t *recordingTracker) Track(_ context.Context, ref string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = append(t.tracked, ref)
	return nil
}

func (t *recordingTracker) Stop(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = append(t.stopped, ref)
}

type countingNotifier struct {
	mu          sync.Mutex
	withdrawals int
}

func (n *countingNotifier) WithdrawalRequested(context.Context, *ledger.Transaction) error {
	n.mu.Lock()
	n.withdrawals++
	n.mu.Unlock()
	return nil
}

type fixture struct {
	e       *echo.Echo
	store   *ledger.MemoryStore
	gw      *fakeGateway
	rec     *reconcile.Reconciler
	tracker *recordingTracker
	notify  *countingNotifier
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:   ledger.NewMemoryStore(),
		gw:      &fakeGateway{},
		tracker: &recordingTracker{},
		notify:  &countingNotifier{},
	}
	f.rec = reconcile.New(reconcile.Options{
		Store:             f.store,
		Gateway:           f.gw,
		DefaultLoanAmount: decimal.NewFromInt(5000),
	})
	f.rec.UseTracker(f.tracker)

	f.e = echo.New()
	f.e.HTTPErrorHandler = apperr.Handler(zap.NewNop())
	o := Options{
		Store:         f.store,
		Gateway:       f.gw,
		Reconciler:    f.rec,
		Notifier:      f.notify,
		MinWithdrawal: decimal.NewFromInt(100),
	}
	for _, fn := range opts {
		fn(&o)
	}
	New(o).Register(f.e)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

func (f *fixture) pay(t *testing.T, body string) string {
	t.Helper()
	rec, out := f.do(t, http.MethodPost, "/pay", body)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body)
	}
	return out["reference"].(string)
}

func TestPayReturnsQueryablePendingReference(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for _, p := range []string{`"0712345678"`, `"712345678"`, `254712345678`} {
		ref := f.pay(t, `{"phone":`+p+`,"amount":50,"loan_amount":"3000"}`)
		if seen[ref] {
			t.Fatalf("duplicate reference %s", ref)
		}
		seen[ref] = true

		rec, out := f.do(t, http.MethodGet, "/receipt/"+ref, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("receipt %s: %d", ref, rec.Code)
		}
		r := out["receipt"].(map[string]any)
		if r["status"] != "pending" || r["phone"] != testPhone || r["amount"] != float64(50) || r["loan_amount"] != "3000.00" {
			t.Fatalf("unexpected receipt: %v", r)
		}
		if r["gateway_reference"] != "GW-"+ref {
			t.Fatalf("gateway reference not stored: %v", r)
		}
	}
	if len(f.tracker.tracked) != 3 {
		t.Fatalf("tracked %v", f.tracker.tracked)
	}
}

func TestPayValidation(t *testing.T) {
	f := newFixture(t)
	cases := []string{
		`{"phone":"12345","amount":50}`,
		`{"phone":"254","amount":50}`,
		`{"phone":"0712345678","amount":0}`,
		`{"phone":"0712345678"}`,
		`{"phone":"0712345678","amount":50,"loan_amount":-1}`,
		`{"phone":"0712345678","amount":50.005}`,
		`{"phone":"0712345678","amount":50,"loan_amount":"1000.001"}`,
		`not json`,
	}
	for _, body := range cases {
		rec, out := f.do(t, http.MethodPost, "/pay", body)
		if rec.Code != http.StatusBadRequest || out["success"] != false {
			t.Fatalf("%s: %d %v", body, rec.Code, out)
		}
	}
}

func TestPayGatewayRejectionKeepsReference(t *testing.T) {
	f := newFixture(t)
	f.gw.InitiateFn = func(context.Context, gateway.InitiateRequest) (*gateway.InitiateResult, error) {
		return nil, &gateway.RejectedError{StatusCode: 422, Message: "Invalid phone for STK push"}
	}
	rec, out := f.do(t, http.MethodPost, "/pay", `{"phone":"0712345678","amount":50}`)
	if rec.Code != http.StatusBadRequest || out["error"] != "Invalid phone for STK push" {
		t.Fatalf("unexpected: %d %v", rec.Code, out)
	}
	ref, _ := out["reference"].(string)
	tx, err := f.store.GetTransaction(context.Background(), ref)
	if err != nil || tx.Status != ledger.StatusError {
		t.Fatalf("transaction %q: %v %v", ref, tx, err)
	}

	f.gw.InitiateFn = func(context.Context, gateway.InitiateRequest) (*gateway.InitiateResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	rec, out = f.do(t, http.MethodPost, "/pay", `{"phone":"0712345678","amount":50}`)
	if rec.Code != http.StatusBadGateway || out["reference"] == nil {
		t.Fatalf("transport failure: %d %v", rec.Code, out)
	}
}

func TestPollAndCallbackSettleOnce(t *testing.T) {
	f := newFixture(t)
	ref := f.pay(t, `{"phone":"0712345678","amount":50}`)
	f.gw.StatusFn = func(context.Context, string) (*gateway.PaymentStatus, error) {
		return &gateway.PaymentStatus{Status: "completed", MpesaReceiptNumber: "QWE123"}, nil
	}

	done, err := f.rec.Poll(context.Background(), ref)
	if err != nil || !done {
		t.Fatalf("poll: %v %v", done, err)
	}
	rec, out := f.do(t, http.MethodPost, "/callback", `{"external_reference":"`+ref+`","status":"completed"}`)
	if rec.Code != http.StatusOK || out["ResultDesc"] != "Accepted" {
		t.Fatalf("callback ack: %d %v", rec.Code, out)
	}

	_, bal := f.do(t, http.MethodGet, "/balance/0712345678", "")
	if bal["balance"] != float64(5000) || bal["has_paid_fee"] != true {
		t.Fatalf("balance after settle: %v", bal)
	}
	txs, _ := f.store.ListTransactions(context.Background(), testPhone, 100)
	disb := 0
	for _, tx := range txs {
		if tx.Type == ledger.TypeLoanDisbursement {
			disb++
		}
	}
	if disb != 1 {
		t.Fatalf("disbursements = %d", disb)
	}
}

func TestCallbackAlwaysAcknowledged(t *testing.T) {
	f := newFixture(t)
	bodies := []string{
		``,
		`garbage`,
		`{}`,
		`{"reference":"FEE-unknown","status":"completed"}`,
		`{"data":{"CheckoutRequestID":"nope","ResultCode":1032}}`,
	}
	for _, b := range bodies {
		rec, out := f.do(t, http.MethodPost, "/callback", b)
		if rec.Code != http.StatusOK || out["ResultCode"] != float64(0) {
			t.Fatalf("body %q: %d %v", b, rec.Code, out)
		}
	}
}

func TestCallbackSecretRequired(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CallbackSecret = "s3cret" })
	ref := f.pay(t, `{"phone":"0712345678","amount":50}`)
	body := `{"reference":"` + ref + `","status":"completed"}`

	rec, out := f.do(t, http.MethodPost, "/callback", body)
	if rec.Code != http.StatusOK || out["ResultDesc"] != "Accepted" {
		t.Fatalf("unsigned callback: %d %v", rec.Code, out)
	}
	if tx, _ := f.store.GetTransaction(context.Background(), ref); tx.Status != ledger.StatusPending {
		t.Fatalf("unsigned callback settled the fee: %s", tx.Status)
	}

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(CallbackSecretHeader, "s3cret")
	f.e.ServeHTTP(httptest.NewRecorder(), req)
	if tx, _ := f.store.GetTransaction(context.Background(), ref); tx.Status != ledger.StatusCompleted {
		t.Fatalf("signed callback status = %s", tx.Status)
	}
}

func TestCallbackLeavesWithdrawalHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AdjustBalance(ctx, testPhone, decimal.NewFromInt(1000))
	f.store.MarkFeePaid(ctx, testPhone)
	_, out := f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":500}`)
	ref := out["reference"].(string)

	rec, _ := f.do(t, http.MethodPost, "/callback", `{"reference":"`+ref+`","status":"failed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback = %d", rec.Code)
	}
	tx, _ := f.store.GetTransaction(ctx, ref)
	if tx.Status != ledger.StatusProcessing {
		t.Fatalf("withdrawal status = %s", tx.Status)
	}
	if _, err := f.store.ResolveWithdrawal(ctx, ref, false, "rejected"); err != nil {
		t.Fatal(err)
	}
	u, _ := f.store.GetUser(ctx, testPhone)
	if !u.Balance.Equal(decimal.NewFromInt(1000)) || !u.Held.IsZero() {
		t.Fatalf("balance=%s held=%s", u.Balance, u.Held)
	}
}

func TestCallbackUnknownStatusLeavesPending(t *testing.T) {
	f := newFixture(t)
	ref := f.pay(t, `{"phone":"0712345678","amount":50}`)
	f.do(t, http.MethodPost, "/callback", `{"reference":"`+ref+`","status":"queued"}`)
	tx, _ := f.store.GetTransaction(context.Background(), ref)
	if tx.Status != ledger.StatusPending {
		t.Fatalf("status = %s", tx.Status)
	}
}

func TestWithdrawRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Balance without the fee flag must still be refused.
	if _, err := f.store.AdjustBalance(ctx, testPhone, decimal.NewFromInt(1000)); err != nil {
		t.Fatal(err)
	}
	rec, out := f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":500}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "fee") {
		t.Fatalf("unpaid fee: %d %v", rec.Code, out)
	}

	if _, err := f.store.MarkFeePaid(ctx, testPhone); err != nil {
		t.Fatal(err)
	}
	rec, out = f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":50}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "minimum") {
		t.Fatalf("below minimum: %d %v", rec.Code, out)
	}
	rec, out = f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":150.555}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "decimal places") {
		t.Fatalf("sub-cent amount: %d %v", rec.Code, out)
	}
	rec, _ = f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":1500}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overdraw: %d", rec.Code)
	}

	rec, out = f.do(t, http.MethodPost, "/withdraw", `{"phone":"0712345678","amount":"1000"}`)
	if rec.Code != http.StatusOK || out["balance"] != float64(0) || out["status"] != "processing" {
		t.Fatalf("full withdrawal: %d %v", rec.Code, out)
	}
	u, _ := f.store.GetUser(ctx, testPhone)
	if !u.Balance.IsZero() || !u.Held.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("user after withdraw: %+v", u)
	}
	if f.notify.withdrawals != 1 {
		t.Fatalf("withdrawal notifications = %d", f.notify.withdrawals)
	}
}

func TestReceiptNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/receipt/FEE-0", "/receipt/FEE-0/pdf"} {
		rec, out := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound || out["reference"] != "FEE-0" {
			t.Fatalf("%s: %d %v", path, rec.Code, out)
		}
	}
}

func TestReceiptPDF(t *testing.T) {
	f := newFixture(t)
	ref := f.pay(t, `{"phone":"0712345678","amount":50}`)
	rec, _ := f.do(t, http.MethodGet, "/receipt/"+ref+"/pdf", "")
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "application/pdf" {
		t.Fatalf("pdf: %d %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatal("body is not a PDF")
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), ref) {
		t.Fatalf("disposition = %s", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestTransactionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.pay(t, `{"phone":"0712345678","amount":50}`)
	second := f.pay(t, `{"phone":"0712345678","amount":60}`)

	rec, out := f.do(t, http.MethodGet, "/transactions/0712345678?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	txs := out["transactions"].([]any)
	if len(txs) != 1 || txs[0].(map[string]any)["reference"] != second {
		t.Fatalf("expected only %s, got %v (first was %s)", second, txs, first)
	}

	rec, _ = f.do(t, http.MethodGet, "/transactions/12345", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid phone status = %d", rec.Code)
	}
}
