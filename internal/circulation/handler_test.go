// internal/circulation/handler_test.go
package circulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func postCard(t *testing.T, router http.Handler, path string, cardID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(cardRequest{CardID: cardID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCheckoutFlow(t *testing.T) {
	f := newFixture(t)
	router := NewHandler(f.svc, zap.NewNop()).Routes()

	rec := postCard(t, router, fmt.Sprintf("/assets/%s/checkout", f.asset), f.cardX)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// double checkout surfaces as a conflict
	rec = postCard(t, router, fmt.Sprintf("/assets/%s/checkout", f.asset), f.cardY)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/assets/%s/checkout", f.asset), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		CheckedOut bool          `json:"checked_out"`
		Checkout   *CheckoutView `json:"checkout"`
		Patron     string        `json:"patron"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.CheckedOut)
	require.NotNil(t, resp.Checkout)
	assert.Equal(t, f.cardX, resp.Checkout.CardID)
	assert.Equal(t, "Ada Lovelace", resp.Patron)

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/assets/%s/checkin", f.asset), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerHolds(t *testing.T) {
	f := newFixture(t)
	router := NewHandler(f.svc, zap.NewNop()).Routes()

	rec := postCard(t, router, fmt.Sprintf("/assets/%s/holds", f.asset), f.cardY)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/assets/%s/holds", f.asset), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var holds []HoldView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&holds))
	require.Len(t, holds, 1)
	assert.Equal(t, f.cardY, holds[0].CardID)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/holds/%s", holds[0].ID), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var hold struct {
		Patron string `json:"patron"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hold))
	assert.Equal(t, "Grace Hopper", hold.Patron)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := NewHandler(f.svc, zap.NewNop()).Routes()

	rec := postCard(t, router, fmt.Sprintf("/assets/%s/checkout", uuid.New()), f.cardX)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postCard(t, router, "/assets/not-a-uuid/checkout", f.cardX)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/holds/%s", uuid.New()), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
