package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/telemetry"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	testSigningKey   = "secret-key"
	testIssuer       = "tauth"
	testCookieName   = "app_session"
	testReviewSecret = "review-secret"
	testDispatchCode = "042137"
)

type apiHarness struct {
	server *httptest.Server
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()
	ctx := context.Background()
	db, cleanup, _, err := gormstore.Open(ctx, t.TempDir()+"/api.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = cleanup() })
	store := gormstore.New(db)
	if err := store.AutoMigrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := func() time.Time { return time.Now().UTC() }

	ledgerService, err := ledger.NewService(store.Ledger(), now)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	fundingService, err := funding.NewService(store.Funding(), ledgerService, testReviewSecret, now)
	if err != nil {
		t.Fatalf("funding service: %v", err)
	}
	engine, err := dispatch.NewEngine(store.Dispatch(), dispatch.DefaultPolicy(), now,
		dispatch.WithCodeGenerator(func() (string, error) { return testDispatchCode, nil }),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	orderService, err := orders.NewService(store.Orders(), ledgerService, fundingService, engine, now)
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(testSigningKey),
		Issuer:     testIssuer,
		CookieName: testCookieName,
	})
	if err != nil {
		t.Fatalf("validator init failed: %v", err)
	}
	router, err := NewRouter(
		RouterConfig{AllowedOrigins: []string{"http://localhost:8000"}},
		Services{Orders: orderService, Ledger: ledgerService, Funding: fundingService, Dispatch: engine},
		validator,
		zap.NewNop(),
		telemetry.NewMetrics(),
	)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return apiHarness{server: server}
}

func buildSessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: signed}
}

// do sends a request and decodes the JSON response into a generic map.
func (harness apiHarness) do(t *testing.T, method string, path string, cookie *http.Cookie, payload any) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(mustJSONMarshal(t, payload))
	}
	request, err := http.NewRequest(method, harness.server.URL+path, body)
	if err != nil {
		t.Fatalf("request build failed: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := harness.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	decoded := map[string]any{}
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 && strings.HasPrefix(response.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return response.StatusCode, decoded
}

func (harness apiHarness) expect(t *testing.T, wantStatus int, method string, path string, cookie *http.Cookie, payload any) map[string]any {
	t.Helper()
	status, decoded := harness.do(t, method, path, cookie, payload)
	if status != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, wantStatus, status, decoded)
	}
	return decoded
}

func mustJSONMarshal(t *testing.T, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return raw
}

func field(t *testing.T, decoded map[string]any, path ...string) any {
	t.Helper()
	var current any = decoded
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			t.Fatalf("expected object at %q in %v", key, decoded)
		}
		current = object[key]
	}
	return current
}

func errorCode(t *testing.T, decoded map[string]any) string {
	t.Helper()
	code, _ := field(t, decoded, "error", "code").(string)
	return code
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	harness := newAPIHarness(t)
	customer := buildSessionCookie(t, "customer-1")
	merchant := buildSessionCookie(t, "merchant-1")
	courier := buildSessionCookie(t, "courier-1")
	reviewer := buildSessionCookie(t, "reviewer-1")

	topUp := harness.expect(t, http.StatusCreated, http.MethodPost, "/api/funding-requests", customer, map[string]any{
		"owner_type":      "customer_wallet",
		"amount":          "20.00",
		"direction":       "credit_in",
		"method":          "gcash",
		"proof_reference": "GC-0001",
		"idempotency_key": "topup-1",
	})
	requestID, _ := field(t, topUp, "request", "id").(string)
	if requestID == "" {
		t.Fatalf("expected funding request id, got %v", topUp)
	}

	denied := harness.expect(t, http.StatusForbidden, http.MethodPost, "/api/funding-requests/"+requestID+"/approve", reviewer, map[string]any{"secret": "guess"})
	if code := errorCode(t, denied); code != "invalid_authorization" {
		t.Fatalf("expected invalid_authorization, got %q", code)
	}
	approved := harness.expect(t, http.StatusOK, http.MethodPost, "/api/funding-requests/"+requestID+"/approve", reviewer, map[string]any{"secret": testReviewSecret})
	if status := field(t, approved, "request", "status"); status != "approved" {
		t.Fatalf("expected approved, got %v", status)
	}
	harness.expect(t, http.StatusConflict, http.MethodPost, "/api/funding-requests/"+requestID+"/reject", reviewer, map[string]any{"secret": testReviewSecret, "reason": "late"})

	placePayload := map[string]any{
		"merchant_id": "merchant-1",
		"items": []map[string]any{
			{"item_id": "adobo", "name": "Chicken adobo", "quantity": 2, "unit_price": "4.25"},
		},
		"payment_method":  "wallet",
		"pickup":          map[string]any{"lat": 10.72, "lon": 122.56},
		"dropoff":         map[string]any{"lat": 10.70, "lon": 122.55},
		"idempotency_key": "checkout-1",
	}
	placed := harness.expect(t, http.StatusCreated, http.MethodPost, "/api/orders", customer, placePayload)
	orderID, _ := field(t, placed, "order", "id").(string)
	if total := field(t, placed, "order", "total"); total != "8.50" {
		t.Fatalf("expected total 8.50, got %v", total)
	}
	replayed := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders", customer, placePayload)
	if field(t, replayed, "replayed") != true || field(t, replayed, "order", "id") != orderID {
		t.Fatalf("expected replay of %s, got %v", orderID, replayed)
	}

	notParty := harness.expect(t, http.StatusForbidden, http.MethodPost, "/api/orders/"+orderID+"/accept", customer, nil)
	if code := errorCode(t, notParty); code != "not_order_party" {
		t.Fatalf("expected not_order_party, got %q", code)
	}
	harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/accept", merchant, nil)
	ready := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/ready", merchant, nil)
	if state := field(t, ready, "order", "dispatch", "state"); state != "searching" {
		t.Fatalf("expected searching, got %v", state)
	}
	if code := field(t, ready, "order", "dispatch", "dispatch_code"); code != nil {
		t.Fatalf("merchant must not see the dispatch code, got %v", code)
	}
	customerView := harness.expect(t, http.StatusOK, http.MethodGet, "/api/orders/"+orderID, customer, nil)
	if code := field(t, customerView, "order", "dispatch", "dispatch_code"); code != testDispatchCode {
		t.Fatalf("expected customer to see code, got %v", code)
	}
	harness.expect(t, http.StatusForbidden, http.MethodGet, "/api/orders/"+orderID, courier, nil)

	harness.expect(t, http.StatusOK, http.MethodPut, "/api/couriers/presence", courier, map[string]any{"online": true, "lat": 10.721, "lon": 122.561})
	claimed := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/claim", courier, nil)
	if state := field(t, claimed, "order", "dispatch", "state"); state != "assigned" {
		t.Fatalf("expected assigned, got %v", state)
	}

	wrongCode := harness.expect(t, http.StatusForbidden, http.MethodPost, "/api/orders/"+orderID+"/handoff", merchant, map[string]any{"courier_id": "courier-1", "code": "000000"})
	if code := errorCode(t, wrongCode); code != "invalid_dispatch_code" {
		t.Fatalf("expected invalid_dispatch_code, got %q", code)
	}
	delivering := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/handoff", merchant, map[string]any{"courier_id": "courier-1", "code": testDispatchCode})
	if status := field(t, delivering, "order", "status"); status != "delivering" {
		t.Fatalf("expected delivering, got %v", status)
	}
	delivered := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/complete", courier, nil)
	if status := field(t, delivered, "order", "status"); status != "delivered" {
		t.Fatalf("expected delivered, got %v", status)
	}

	balance := harness.expect(t, http.StatusOK, http.MethodGet, "/api/accounts/customer_wallet/customer-1/balance", customer, nil)
	if amount := field(t, balance, "balance"); amount != "11.50" {
		t.Fatalf("expected 11.50 after checkout, got %v", amount)
	}
	entries := harness.expect(t, http.StatusOK, http.MethodGet, "/api/accounts/customer_wallet/customer-1/entries?limit=10", customer, nil)
	if list, _ := field(t, entries, "entries").([]any); len(list) != 2 {
		t.Fatalf("expected top-up and payment entries, got %v", entries)
	}
	verified := harness.expect(t, http.StatusOK, http.MethodGet, "/api/accounts/customer_wallet/customer-1/verify", customer, nil)
	if field(t, verified, "valid") != true {
		t.Fatalf("expected valid chain, got %v", verified)
	}
	harness.expect(t, http.StatusForbidden, http.MethodGet, "/api/accounts/customer_wallet/customer-1/balance", merchant, nil)
}

func TestCancelledOrderRefundsAreListed(t *testing.T) {
	t.Parallel()
	harness := newAPIHarness(t)
	customer := buildSessionCookie(t, "customer-2")
	merchant := buildSessionCookie(t, "merchant-2")
	reviewer := buildSessionCookie(t, "reviewer-2")

	topUp := harness.expect(t, http.StatusCreated, http.MethodPost, "/api/funding-requests", customer, map[string]any{
		"owner_type":      "customer_wallet",
		"amount":          "10",
		"direction":       "credit_in",
		"method":          "bank_transfer",
		"idempotency_key": "topup-2",
	})
	requestID, _ := field(t, topUp, "request", "id").(string)
	harness.expect(t, http.StatusOK, http.MethodPost, "/api/funding-requests/"+requestID+"/approve", reviewer, map[string]any{"secret": testReviewSecret})

	placed := harness.expect(t, http.StatusCreated, http.MethodPost, "/api/orders", customer, map[string]any{
		"merchant_id": "merchant-2",
		"items": []map[string]any{
			{"item_id": "halo-halo", "name": "Halo-halo", "quantity": 1, "unit_price": "3.00"},
		},
		"payment_method":  "wallet",
		"pickup":          map[string]any{"lat": 10.72, "lon": 122.56},
		"dropoff":         map[string]any{"lat": 10.70, "lon": 122.55},
		"idempotency_key": "checkout-2",
	})
	orderID, _ := field(t, placed, "order", "id").(string)

	declined := harness.expect(t, http.StatusOK, http.MethodPost, "/api/orders/"+orderID+"/decline", merchant, map[string]any{"reason": "out of ice"})
	if status := field(t, declined, "order", "status"); status != "cancelled" {
		t.Fatalf("expected cancelled, got %v", status)
	}
	refunds := harness.expect(t, http.StatusOK, http.MethodGet, "/api/orders/"+orderID+"/refunds", customer, nil)
	list, _ := field(t, refunds, "refunds").([]any)
	if len(list) != 1 {
		t.Fatalf("expected one refund, got %v", refunds)
	}
	refund, _ := list[0].(map[string]any)
	if refund["amount"] != "3.00" || refund["status"] != "pending" {
		t.Fatalf("unexpected refund %v", refund)
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	harness := newAPIHarness(t)
	customer := buildSessionCookie(t, "customer-3")

	testCases := []struct {
		name       string
		method     string
		path       string
		cookie     *http.Cookie
		payload    any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing session",
			method:     http.MethodGet,
			path:       "/api/orders/unknown",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown order",
			method:     http.MethodGet,
			path:       "/api/orders/unknown",
			cookie:     customer,
			wantStatus: http.StatusNotFound,
			wantCode:   "unknown_order",
		},
		{
			name:       "bad owner type",
			method:     http.MethodGet,
			path:       "/api/accounts/vault/customer-3/balance",
			cookie:     customer,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_owner_type",
		},
		{
			name:   "sub-cent amount",
			method: http.MethodPost,
			path:   "/api/funding-requests",
			cookie: customer,
			payload: map[string]any{
				"owner_type": "customer_wallet", "amount": "1.005", "direction": "credit_in",
				"method": "gcash", "idempotency_key": "k-1",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_amount",
		},
		{
			name:   "unknown payment method",
			method: http.MethodPost,
			path:   "/api/orders",
			cookie: customer,
			payload: map[string]any{
				"merchant_id": "merchant-3", "payment_method": "barter", "idempotency_key": "k-2",
				"items": []map[string]any{{"item_id": "a", "name": "A", "quantity": 1, "unit_price": "1.00"}},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_payment_method",
		},
		{
			name:       "list limit too large",
			method:     http.MethodGet,
			path:       "/api/accounts/customer_wallet/customer-3/entries?limit=5000",
			cookie:     customer,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_list_limit",
		},
		{
			name:       "wallet checkout without funds",
			method:     http.MethodPost,
			path:       "/api/orders",
			cookie:     customer,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "insufficient_balance",
			payload: map[string]any{
				"merchant_id": "merchant-3", "payment_method": "wallet", "idempotency_key": "k-3",
				"items":   []map[string]any{{"item_id": "a", "name": "A", "quantity": 1, "unit_price": "1.00"}},
				"pickup":  map[string]any{"lat": 10.72, "lon": 122.56},
				"dropoff": map[string]any{"lat": 10.70, "lon": 122.55},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			status, decoded := harness.do(t, testCase.method, testCase.path, testCase.cookie, testCase.payload)
			if status != testCase.wantStatus {
				t.Fatalf("expected %d, got %d (%v)", testCase.wantStatus, status, decoded)
			}
			if testCase.wantCode != "" {
				if code := errorCode(t, decoded); code != testCase.wantCode {
					t.Fatalf("expected %q, got %q", testCase.wantCode, code)
				}
			}
		})
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	t.Parallel()
	harness := newAPIHarness(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		response, err := harness.server.Client().Get(harness.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, response.StatusCode)
		}
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "broken chain", err: fmt.Errorf("append: %w", ledger.ErrChainBroken), wantStatus: http.StatusLocked, wantCode: "ledger_chain_broken"},
		{name: "overdraft", err: ledger.ErrInsufficientBalance, wantStatus: http.StatusUnprocessableEntity, wantCode: "insufficient_balance"},
		{name: "lost race", err: fmt.Errorf("claim: %w", dispatch.ErrAlreadyAssigned), wantStatus: http.StatusConflict, wantCode: "already_assigned"},
		{name: "unknown request", err: funding.ErrUnknownRequest, wantStatus: http.StatusNotFound, wantCode: "unknown_funding_request"},
		{name: "money", err: fmt.Errorf("item: %w", errInvalidMoney), wantStatus: http.StatusBadRequest, wantCode: "invalid_amount"},
		{name: "anything else", err: errors.New("disk full"), wantStatus: http.StatusInternalServerError, wantCode: errorInternal},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			status, code := classifyError(testCase.err)
			if status != testCase.wantStatus || code != testCase.wantCode {
				t.Fatalf("expected %d/%s, got %d/%s", testCase.wantStatus, testCase.wantCode, status, code)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "500", want: 50000},
		{raw: "500.25", want: 50025},
		{raw: " 0.5 ", want: 50},
		{raw: "0.01", want: 1},
		{raw: "1.005", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-3.00", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, testCase := range testCases {
		got, err := parseMoney(testCase.raw)
		if testCase.wantErr {
			if !errors.Is(err, errInvalidMoney) {
				t.Fatalf("%q: expected errInvalidMoney, got %v", testCase.raw, err)
			}
			continue
		}
		if err != nil || got != testCase.want {
			t.Fatalf("%q: expected %d, got %d (%v)", testCase.raw, testCase.want, got, err)
		}
	}
	if formatted := formatMoney(1150); formatted != "11.50" {
		t.Fatalf("expected 11.50, got %s", formatted)
	}
}
