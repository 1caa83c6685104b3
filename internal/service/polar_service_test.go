package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"app/internal/config"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

type fakeUserRepo struct {
	byID    map[string]*model.User
	byEmail map[string]*model.User
	noSub   []string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*model.User{}, byEmail: map[string]*model.User{}}
}

func (f *fakeUserRepo) add(u *model.User) {
	f.byID[u.UserID] = u
	f.byEmail[u.Email] = u
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, u *model.User) error {
	f.add(u)
	return nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUserRepo) ListWithoutSubscription(ctx context.Context, createdAfter time.Time) ([]string, error) {
	return f.noSub, nil
}

// fakeSubSvc records the writes the webhook ingestor issues.
type fakeSubSvc struct {
	upserts []repository.UpsertSubscriptionParams
	updates []repository.UpdateSubscriptionParams

	syncs      []string
	syncResult model.AccessStatus
	syncErr    error
	recoverID  *string
}

func (f *fakeSubSvc) GetAccessStatus(ctx context.Context, userID string) model.AccessStatus {
	return f.syncResult
}

func (f *fakeSubSvc) SyncFromPolar(ctx context.Context, userID, polarCustomerID string) (model.AccessStatus, error) {
	f.syncs = append(f.syncs, userID)
	return f.syncResult, f.syncErr
}

func (f *fakeSubSvc) RecoverPolarCustomerID(ctx context.Context, userID string) *string {
	return f.recoverID
}

func (f *fakeSubSvc) Upsert(ctx context.Context, p repository.UpsertSubscriptionParams) error {
	f.upserts = append(f.upserts, p)
	return nil
}

func (f *fakeSubSvc) UpdateBySubscriptionID(ctx context.Context, p repository.UpdateSubscriptionParams) error {
	f.updates = append(f.updates, p)
	return nil
}

// memSubStore keeps rows keyed on user id and mirrors the store's write
// semantics: an upsert overwrites every identifier so the last event wins,
// while an update by subscription id only touches an existing row.
type memSubStore struct {
	rows map[string]*model.Subscription
}

func newMemSubStore() *memSubStore {
	return &memSubStore{rows: map[string]*model.Subscription{}}
}

func (m *memSubStore) GetByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	return m.rows[userID], nil
}

func (m *memSubStore) GetBySubscriptionID(ctx context.Context, id string) (*model.Subscription, error) {
	for _, row := range m.rows {
		if row.PolarSubscriptionID != nil && *row.PolarSubscriptionID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (m *memSubStore) Upsert(ctx context.Context, p repository.UpsertSubscriptionParams) error {
	row, ok := m.rows[p.UserID]
	if !ok {
		row = &model.Subscription{ID: p.UserID + "-row", UserID: p.UserID}
		m.rows[p.UserID] = row
	}
	row.PolarCustomerID = strPtr(p.PolarCustomerID)
	row.PolarSubscriptionID = p.PolarSubscriptionID
	row.PolarOrderID = p.PolarOrderID
	row.PolarProductID = strPtr(p.PolarProductID)
	row.BillingType = p.BillingType
	row.Plan = model.PlanPro
	row.Status = p.Status
	row.CurrentPeriodEnd = p.CurrentPeriodEnd
	row.CancelAtPeriodEnd = p.CancelAtPeriodEnd
	return nil
}

func (m *memSubStore) UpdateBySubscriptionID(ctx context.Context, p repository.UpdateSubscriptionParams) error {
	for _, row := range m.rows {
		if row.PolarSubscriptionID == nil || *row.PolarSubscriptionID != p.PolarSubscriptionID {
			continue
		}
		row.Status = p.Status
		if p.CurrentPeriodEnd != nil {
			row.CurrentPeriodEnd = p.CurrentPeriodEnd
		}
		if p.CancelAtPeriodEnd != nil {
			row.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
		}
	}
	return nil
}

func (m *memSubStore) UpdateLastSyncedAt(ctx context.Context, userID string, syncedAt time.Time) error {
	if row, ok := m.rows[userID]; ok {
		row.LastSyncedAt = &syncedAt
	}
	return nil
}

func (m *memSubStore) UpdateCustomerID(ctx context.Context, userID, polarCustomerID string) error {
	if row, ok := m.rows[userID]; ok {
		row.PolarCustomerID = &polarCustomerID
	}
	return nil
}

func (m *memSubStore) InsertDefault(ctx context.Context, userID string) (bool, error) {
	if _, ok := m.rows[userID]; ok {
		return false, nil
	}
	m.rows[userID] = &model.Subscription{
		ID:          userID + "-row",
		UserID:      userID,
		BillingType: model.BillingRecurring,
		Plan:        model.PlanFree,
		Status:      model.StatusActive,
	}
	return true, nil
}

func (m *memSubStore) ListStale(ctx context.Context, cutoff time.Time) ([]repository.StaleSubscription, error) {
	var stale []repository.StaleSubscription
	for _, row := range m.rows {
		if row.Status != model.StatusActive && row.Status != model.StatusTrialing {
			continue
		}
		if row.LastSyncedAt == nil || row.LastSyncedAt.Before(cutoff) {
			stale = append(stale, repository.StaleSubscription{UserID: row.UserID, PolarCustomerID: row.PolarCustomerID})
		}
	}
	return stale, nil
}

const testWebhookSecretRaw = "0123456789abcdef"

func testWebhookSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString([]byte(testWebhookSecretRaw))
}

func signedWebhookRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/polar", strings.NewReader(payload))
	msgID := "msg_test"
	ts := fmt.Sprintf("%d", time.Now().Unix())

	mac := hmac.New(sha256.New, []byte(testWebhookSecretRaw))
	fmt.Fprintf(mac, "%s.%s.%s", msgID, ts, payload)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("webhook-id", msgID)
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", "v1,"+sig)
	return req
}

func newTestPolarService(userRepo repository.UserRepository, subSvc SubscriptionService) *PolarService {
	cfg := &config.Config{
		PolarWebhookSecret:     testWebhookSecret(),
		PricingMode:            "subscription",
		PolarProMonthlyProduct: "prod_monthly",
		PolarProAnnualProduct:  "prod_annual",
		PolarProLTDProductID:   "prod_ltd",
		AppBaseURL:             "http://localhost:3000",
		WebhookDLQQueueName:    "webhook_dead_letter",
	}
	return NewPolarService(cfg, &fakePolarClient{}, userRepo, subSvc, nil, zerolog.Nop())
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc := newTestPolarService(newFakeUserRepo(), &fakeSubSvc{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/polar", strings.NewReader(`{"type":"order.paid"}`))
	req.Header.Set("webhook-id", "msg_test")
	req.Header.Set("webhook-timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("webhook-signature", "v1,"+base64.StdEncoding.EncodeToString([]byte("forged")))

	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleWebhookOrderPaid(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{
        "type": "order.paid",
        "data": {
            "id": "ord_1",
            "paid": true,
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"},
            "product": {"id": "prod_ltd", "name": "Pro LTD"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(subSvc.upserts))
	}
	up := subSvc.upserts[0]
	if up.UserID != "u1" || up.BillingType != model.BillingOneTime || up.Status != model.StatusActive {
		t.Errorf("unexpected upsert: %+v", up)
	}
	if up.PolarOrderID == nil || *up.PolarOrderID != "ord_1" {
		t.Errorf("order id not carried: %+v", up)
	}
}

func TestHandleWebhookSubscriptionCreatedEmailFallback(t *testing.T) {
	users := newFakeUserRepo()
	users.add(&model.User{UserID: "u7", Email: "late@example.com"})
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(users, subSvc)

	payload := `{
        "type": "subscription.created",
        "data": {
            "id": "sub_1",
            "status": "trialing",
            "cancel_at_period_end": false,
            "customer": {"id": "cus_7", "email": "late@example.com", "external_id": null},
            "product": {"id": "prod_monthly", "name": "Pro Monthly"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(subSvc.upserts))
	}
	up := subSvc.upserts[0]
	if up.UserID != "u7" {
		t.Errorf("email fallback resolved to %q, want u7", up.UserID)
	}
	if up.Status != model.StatusTrialing || up.BillingType != model.BillingRecurring {
		t.Errorf("unexpected upsert: %+v", up)
	}
}

func TestHandleWebhookUnresolvableUserDropped(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{
        "type": "subscription.created",
        "data": {
            "id": "sub_1",
            "status": "active",
            "customer": {"id": "cus_x", "email": "ghost@example.com", "external_id": null},
            "product": {"id": "prod_monthly", "name": "Pro Monthly"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	// Dropped events still ack: retrying cannot resolve the user.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.upserts) != 0 {
		t.Errorf("expected no upsert for unresolvable user, got %d", len(subSvc.upserts))
	}
}

func TestHandleWebhookMissingProductDropped(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{
        "type": "order.paid",
        "data": {
            "id": "ord_2",
            "paid": true,
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.upserts) != 0 {
		t.Errorf("expected no upsert for product-less order, got %d", len(subSvc.upserts))
	}
}

func TestHandleWebhookSubscriptionUpdated(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{
        "type": "subscription.updated",
        "data": {
            "id": "sub_1",
            "status": "active",
            "cancel_at_period_end": true,
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(subSvc.updates))
	}
	upd := subSvc.updates[0]
	if upd.PolarSubscriptionID != "sub_1" || upd.Status != model.StatusActive {
		t.Errorf("unexpected update: %+v", upd)
	}
	if upd.CancelAtPeriodEnd == nil || !*upd.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end not carried through")
	}
}

func TestHandleWebhookSubscriptionCanceled(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{
        "type": "subscription.canceled",
        "data": {
            "id": "sub_1",
            "status": "canceled",
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"}
        }
    }`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(subSvc.updates))
	}
	upd := subSvc.updates[0]
	if upd.Status != model.StatusCanceled {
		t.Errorf("status = %s, want CANCELED", upd.Status)
	}
	if upd.CurrentPeriodEnd != nil || upd.CancelAtPeriodEnd != nil {
		t.Error("cancellation must leave period fields untouched")
	}
}

// newStoreBackedPolarService wires the ingestor through a real subscription
// service over an in-memory store, so tests can observe the final row state
// after a sequence of events.
func newStoreBackedPolarService(store *memSubStore) *PolarService {
	subSvc := NewSubscriptionService(store, &fakePolarClient{}, time.Hour, zerolog.Nop())
	return newTestPolarService(newFakeUserRepo(), subSvc)
}

func deliverWebhook(t *testing.T, svc *PolarService, payload string) {
	t.Helper()
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

const orderPaidPayload = `{
    "type": "order.paid",
    "data": {
        "id": "ord_1",
        "paid": true,
        "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"},
        "product": {"id": "prod_ltd", "name": "Pro LTD"}
    }
}`

const subscriptionCreatedPayload = `{
    "type": "subscription.created",
    "data": {
        "id": "sub_1",
        "status": "active",
        "cancel_at_period_end": false,
        "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"},
        "product": {"id": "prod_monthly", "name": "Pro Monthly"}
    }
}`

func TestHandleWebhookSubscriptionCreatedIdempotent(t *testing.T) {
	store := newMemSubStore()
	svc := newStoreBackedPolarService(store)

	deliverWebhook(t, svc, subscriptionCreatedPayload)
	if len(store.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(store.rows))
	}
	first := *store.rows["u1"]

	deliverWebhook(t, svc, subscriptionCreatedPayload)
	if len(store.rows) != 1 {
		t.Fatalf("redelivery created a row, got %d", len(store.rows))
	}
	if !reflect.DeepEqual(first, *store.rows["u1"]) {
		t.Errorf("redelivery changed the row:\n first: %+v\nsecond: %+v", first, *store.rows["u1"])
	}
}

func TestHandleWebhookOrderThenSubscriptionLastWriteWins(t *testing.T) {
	store := newMemSubStore()
	svc := newStoreBackedPolarService(store)

	deliverWebhook(t, svc, orderPaidPayload)
	deliverWebhook(t, svc, subscriptionCreatedPayload)

	if len(store.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(store.rows))
	}
	row := store.rows["u1"]
	if row.BillingType != model.BillingRecurring {
		t.Errorf("billing type = %s, want recurring", row.BillingType)
	}
	if row.PolarSubscriptionID == nil || *row.PolarSubscriptionID != "sub_1" {
		t.Errorf("subscription id not written: %+v", row)
	}
	if row.PolarOrderID != nil {
		t.Errorf("order id must be cleared by the later subscription event, got %q", *row.PolarOrderID)
	}
	if row.PolarProductID == nil || *row.PolarProductID != "prod_monthly" {
		t.Errorf("product id = %v, want prod_monthly", row.PolarProductID)
	}
}

func TestHandleWebhookSubscriptionThenOrderLastWriteWins(t *testing.T) {
	store := newMemSubStore()
	svc := newStoreBackedPolarService(store)

	deliverWebhook(t, svc, subscriptionCreatedPayload)
	deliverWebhook(t, svc, orderPaidPayload)

	if len(store.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(store.rows))
	}
	row := store.rows["u1"]
	if row.BillingType != model.BillingOneTime {
		t.Errorf("billing type = %s, want one_time", row.BillingType)
	}
	if row.PolarOrderID == nil || *row.PolarOrderID != "ord_1" {
		t.Errorf("order id not written: %+v", row)
	}
	if row.PolarSubscriptionID != nil {
		t.Errorf("subscription id must be cleared by the later order event, got %q", *row.PolarSubscriptionID)
	}
}

func TestHandleWebhookUpdateUnknownSubscriptionCreatesNoRow(t *testing.T) {
	store := newMemSubStore()
	svc := newStoreBackedPolarService(store)

	deliverWebhook(t, svc, `{
        "type": "subscription.updated",
        "data": {
            "id": "sub_ghost",
            "status": "active",
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"}
        }
    }`)
	deliverWebhook(t, svc, `{
        "type": "subscription.canceled",
        "data": {
            "id": "sub_ghost",
            "status": "canceled",
            "customer": {"id": "cus_1", "email": "u@example.com", "external_id": "u1"}
        }
    }`)

	if len(store.rows) != 0 {
		t.Errorf("update events for an unknown subscription must not create rows, got %d", len(store.rows))
	}
}

func TestHandleWebhookUnknownEventAcked(t *testing.T) {
	subSvc := &fakeSubSvc{}
	svc := newTestPolarService(newFakeUserRepo(), subSvc)

	payload := `{"type": "benefit.granted", "data": {}}`
	rr := httptest.NewRecorder()
	svc.HandleWebhook(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(subSvc.upserts) != 0 || len(subSvc.updates) != 0 {
		t.Error("unknown events must not write")
	}
}

func TestProductsPerPricingMode(t *testing.T) {
	svc := newTestPolarService(newFakeUserRepo(), &fakeSubSvc{})

	products := svc.Products()
	if len(products) != 2 {
		t.Fatalf("subscription mode: got %d products, want 2", len(products))
	}

	svc.cfg.PricingMode = "ltd"
	products = svc.Products()
	if len(products) != 1 || products[0].Slug != "pro-ltd" {
		t.Fatalf("ltd mode: got %+v", products)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	users := newFakeUserRepo()
	users.add(&model.User{UserID: "u1", Email: "u@example.com"})
	svc := newTestPolarService(users, &fakeSubSvc{})

	url, err := svc.CreateCheckoutSession(context.Background(), "u1", "pro-monthly")
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if url == "" {
		t.Error("expected a checkout URL")
	}

	if _, err := svc.CreateCheckoutSession(context.Background(), "u1", "pro-ltd"); err == nil {
		t.Error("ltd slug must be rejected in subscription mode")
	}
	if _, err := svc.CreateCheckoutSession(context.Background(), "ghost", "pro-monthly"); err == nil {
		t.Error("unknown user must be rejected")
	}
}
