package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/unclip/dbopen"
	"github.com/hazyhaar/unclip/idgen"
	"github.com/hazyhaar/unclip/shield"
)

type fakeProvider struct {
	mu       sync.Mutex
	paid     map[string]bool
	created  []CheckoutParams
	failWith error
}

func (f *fakeProvider) CreateCheckout(_ context.Context, p CheckoutParams) (Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return Checkout{}, f.failWith
	}
	f.created = append(f.created, p)
	return Checkout{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (f *fakeProvider) Payment(_ context.Context, id string) (Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Payment{Paid: f.paid[id], ExtensionID: "ext-1"}, nil
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *fakeProvider, *Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	is, err := NewIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	fp := &fakeProvider{paid: map[string]bool{"cs_paid": true}}
	st := NewStore(db)
	return NewService(fp, is, st, nil), fp, st
}

func TestKeyFormat(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidKey(k) {
		t.Errorf("NewKey() = %q is not valid", k)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"GM-0A1B-2C3D-4E5F-6789-ABCD-EF01", true},
		{"GM-0a1b-2C3D-4E5F-6789-ABCD-EF01", false},
		{"GM-0A1B-2C3D-4E5F-6789-ABCD", false},
		{"XX-0A1B-2C3D-4E5F-6789-ABCD-EF01", false},
		{"GM-0A1B-2C3D-4E5F-6789-ABCD-EF01-", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidKey(tt.key); got != tt.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestIssuer_Deterministic(t *testing.T) {
	a, _ := NewIssuer(testSecret)
	b, _ := NewIssuer(testSecret)
	if a.Key("cs_1") != b.Key("cs_1") {
		t.Error("same secret and session, different keys")
	}
	if a.Key("cs_1") == a.Key("cs_2") {
		t.Error("different sessions, same key")
	}
	if !ValidKey(a.Key("cs_1")) {
		t.Errorf("derived key %q is not valid", a.Key("cs_1"))
	}
	if _, err := NewIssuer([]byte("short")); err == nil {
		t.Error("short secret accepted")
	}
	long, _ := NewIssuer(bytes.Repeat([]byte("s"), 100))
	if !ValidKey(long.Key("cs_1")) {
		t.Error("long secret broke derivation")
	}
}

func TestCheckoutURLs(t *testing.T) {
	success, cancel := CheckoutURLs("https://unclip.example/success.html", "abc")
	if success != "https://unclip.example/success.html?session_id={CHECKOUT_SESSION_ID}&ext_id=abc" {
		t.Errorf("success = %q", success)
	}
	if cancel != "https://unclip.example/upgrade.html?ext_id=abc" {
		t.Errorf("cancel = %q", cancel)
	}
}

func TestVerify_IdempotentPerSession(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t)

	k1, err := svc.Verify(ctx, "cs_paid")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := svc.Verify(ctx, "cs_paid")
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("keys differ: %s / %s", k1, k2)
	}
	if n, _ := st.Count(ctx); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}

	rec, err := st.ByKey(ctx, k1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SessionID != "cs_paid" || rec.ExtensionID != "ext-1" || !strings.HasPrefix(rec.ID, "lic_") {
		t.Errorf("record = %+v", rec)
	}
	if rec.KeyHash == k1 || strings.Contains(rec.KeyHash, "GM-") {
		t.Error("plaintext key stored")
	}
}

func TestVerify_NotPaid(t *testing.T) {
	svc, _, st := newTestService(t)
	if _, err := svc.Verify(context.Background(), "cs_open"); !errors.Is(err, ErrNotPaid) {
		t.Fatalf("err = %v, want ErrNotPaid", err)
	}
	if n, _ := st.Count(context.Background()); n != 0 {
		t.Errorf("records = %d after unpaid verify", n)
	}
}

func TestStore_Lookups(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := NewStore(db,
		WithStoreClock(func() time.Time { return at }),
		WithIDGenerator(idgen.Sequence("lic_")))

	rec, created, err := st.Record(ctx, "cs_1", "ext", "GM-AAAA-AAAA-AAAA-AAAA-AAAA-AAAA")
	if err != nil || !created {
		t.Fatalf("Record = %v, %v", created, err)
	}
	got, err := st.BySession(ctx, "cs_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "lic_1" || got.ID != rec.ID || got.KeyHash != rec.KeyHash || !got.CreatedAt.Equal(at) {
		t.Errorf("BySession = %+v, want %+v", got, rec)
	}
	if _, err := st.ByKey(ctx, "GM-BBBB-AAAA-AAAA-AAAA-AAAA-AAAA"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown key err = %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]string
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHTTP_CreateCheckout(t *testing.T) {
	svc, fp, _ := newTestService(t)
	h, _ := svc.Handler(shield.StackConfig{})

	rec, out := doJSON(t, h, http.MethodPost, "/api/create-checkout",
		`{"extensionId":"ext-9","returnUrl":"https://x.example/success.html"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if out["sessionId"] != "cs_test_1" || out["url"] == "" {
		t.Errorf("body = %v", out)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	if len(fp.created) != 1 || fp.created[0].CancelURL != "https://x.example/upgrade.html?ext_id=ext-9" {
		t.Errorf("provider params = %+v", fp.created)
	}

	fp.failWith = errors.New("card declined")
	rec, out = doJSON(t, h, http.MethodPost, "/api/create-checkout",
		`{"extensionId":"ext-9","returnUrl":"https://x.example/success.html"}`)
	if rec.Code != http.StatusInternalServerError || out["error"] != "card declined" {
		t.Errorf("provider failure = %d %v", rec.Code, out)
	}
}

func TestHTTP_VerifyPayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	h, _ := svc.Handler(shield.StackConfig{})

	rec, out := doJSON(t, h, http.MethodPost, "/api/verify-payment", `{"sessionId":"cs_paid"}`)
	if rec.Code != http.StatusOK || !ValidKey(out["licenseKey"]) {
		t.Fatalf("paid verify = %d %v", rec.Code, out)
	}

	rec, out = doJSON(t, h, http.MethodPost, "/api/verify-payment", `{"sessionId":"cs_open"}`)
	if rec.Code != http.StatusBadRequest || out["error"] != "Payment not completed" {
		t.Errorf("unpaid verify = %d %v", rec.Code, out)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/verify-payment", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", rec.Code)
	}
}

func TestHTTP_Methods(t *testing.T) {
	svc, _, _ := newTestService(t)
	h, _ := svc.Handler(shield.StackConfig{})

	for _, path := range []string{"/api/create-checkout", "/api/verify-payment"} {
		rec, _ := doJSON(t, h, http.MethodOptions, path, "")
		body, _ := io.ReadAll(rec.Body)
		if rec.Code != http.StatusOK || string(body) != "ok" {
			t.Errorf("OPTIONS %s = %d %q", path, rec.Code, body)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") != "POST, OPTIONS" {
			t.Errorf("OPTIONS %s missing CORS methods", path)
		}

		rec, out := doJSON(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusMethodNotAllowed || out["error"] != "Method not allowed" {
			t.Errorf("GET %s = %d %v", path, rec.Code, out)
		}
	}
}
