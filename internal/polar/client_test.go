package polar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &httpClient{
		baseURL:     srv.URL,
		accessToken: "polar_pat_test",
		client:      srv.Client(),
		logger:      zerolog.Nop(),
	}
}

func TestListActiveSubscriptions(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("customer_id"); got != "cus_1" {
			t.Errorf("customer_id = %q", got)
		}
		if got := r.URL.Query().Get("active"); got != "true" {
			t.Errorf("active = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer polar_pat_test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "sub_1", "status": "active", "product": map[string]any{"id": "prod_1"}},
			},
		})
	})

	subs, err := client.ListActiveSubscriptions(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("ListActiveSubscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "sub_1" || subs[0].Product == nil {
		t.Errorf("subs = %+v", subs)
	}
}

func TestListOrders(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "ord_1", "paid": true, "product": map[string]any{"id": "prod_ltd"}},
			},
		})
	})

	orders, err := client.ListOrders(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || !orders[0].Paid {
		t.Errorf("orders = %+v", orders)
	}
}

func TestGetCustomerByExternalID(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers/external/u1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "cus_1", "email": "u@example.com", "external_id": "u1",
		})
	})

	customer, err := client.GetCustomerByExternalID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetCustomerByExternalID: %v", err)
	}
	if customer.ID != "cus_1" || customer.ExternalID == nil || *customer.ExternalID != "u1" {
		t.Errorf("customer = %+v", customer)
	}
}

func TestCreateCheckout(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkouts" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var params CreateCheckoutParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if len(params.Products) != 1 || params.Products[0] != "prod_monthly" {
			t.Errorf("products = %v", params.Products)
		}
		if params.ExternalCustomerID != "u1" {
			t.Errorf("external_customer_id = %q", params.ExternalCustomerID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chk_1", "url": "https://polar.sh/checkout/chk_1",
		})
	})

	checkout, err := client.CreateCheckout(context.Background(), CreateCheckoutParams{
		Products:           []string{"prod_monthly"},
		CustomerEmail:      "u@example.com",
		ExternalCustomerID: "u1",
		SuccessURL:         "http://localhost:3000/dashboard?checkout=success",
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if checkout.URL == "" {
		t.Error("expected checkout URL")
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"ResourceNotFound"}`, http.StatusNotFound)
	})

	if _, err := client.GetCustomerByExternalID(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
