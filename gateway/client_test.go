/*
client_test.go - Gateway client tests against a stub HTTP server

Covers pagination via starting_after, status filtering, auth headers, the
created_gte window parameter, and failure handling.
*/
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textmatch/recon-engine/recon"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL:           baseURL,
		APIKey:            "sk_test_123",
		PageSize:          2,
		RequestsPerSecond: 1000, // don't slow the tests down
	}, zerolog.Nop())
}

func TestListSucceededSince_Pagination(t *testing.T) {
	// GIVEN: Three charges across two pages
	pages := map[string]listResponse{
		"": {
			Data: []paymentJSON{
				{ID: "pi_1", Amount: 100000, Status: "succeeded"},
				{ID: "pi_2", Amount: 200000, Status: "succeeded"},
			},
			HasMore: true,
		},
		"pi_2": {
			Data: []paymentJSON{
				{ID: "pi_3", Amount: 300000, Status: "succeeded",
					Metadata: map[string]string{recon.MetadataTextbookKey: "t3"}},
			},
			HasMore: false,
		},
	}

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		page, ok := pages[r.URL.Query().Get("starting_after")]
		if !ok {
			t.Errorf("unexpected starting_after %q", r.URL.Query().Get("starting_after"))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	// WHEN: Fetching
	payments, err := client.ListSucceededSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	// THEN: All three charges, in gateway order, after two requests
	require.Len(t, payments, 3)
	assert.Equal(t, "pi_1", payments[0].ID)
	assert.Equal(t, "pi_3", payments[2].ID)
	assert.Equal(t, "t3", payments[2].TextbookID())
	assert.Equal(t, 2, requests)
}

func TestListSucceededSince_FiltersNonSucceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listResponse{
			Data: []paymentJSON{
				{ID: "pi_1", Amount: 100000, Status: "succeeded"},
				{ID: "pi_2", Amount: 200000, Status: "requires_payment_method"},
				{ID: "pi_3", Amount: 300000, Status: "canceled"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	payments, err := client.ListSucceededSince(context.Background(), time.Now())
	require.NoError(t, err)

	require.Len(t, payments, 1)
	assert.Equal(t, "pi_1", payments[0].ID)
}

func TestListSucceededSince_RequestShape(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "1767225600", r.URL.Query().Get("created_gte"))
		json.NewEncoder(w).Encode(listResponse{})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	payments, err := client.ListSucceededSince(context.Background(), since)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestListSucceededSince_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.ListSucceededSince(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestListSucceededSince_BreakerTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Config{
		BaseURL:           server.URL,
		APIKey:            "sk_test_123",
		RequestsPerSecond: 1000,
		BreakerFailures:   2,
	}, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.ListSucceededSince(ctx, time.Now())
		require.Error(t, err)
	}

	// Circuit is open now; the request never reaches the server.
	_, err := client.ListSucceededSince(ctx, time.Now())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
