package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/queue"
)

const jwtSecret = "admin-jwt-secret"

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func adminRouter(t *testing.T, q queue.Queue, secret string) http.Handler {
	t.Helper()
	f := newWebhookFixture(t)
	if q == nil {
		q = f.queue
	}
	return NewRouter(f.handler, NewAdminHandler(nil, q), secret)
}

func TestAdminAuthRequiresToken(t *testing.T) {
	router := adminRouter(t, nil, jwtSecret)

	req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")

	req = httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "garbage token")

	req = httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong signing key")
}

func TestAdminAuthAcceptsValidToken(t *testing.T) {
	router := adminRouter(t, nil, jwtSecret)

	req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwtSecret))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthDisabledWithEmptySecret(t *testing.T) {
	router := adminRouter(t, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDeadLettersListing(t *testing.T) {
	registry := models.NewModuleRegistry([]string{"Leads"}, nil)
	q := queue.NewMemoryQueue(registry, 3)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, models.SyncEvent{Module: "Leads", EventType: models.EventUpdate, RecordID: "lead-1"}, "corr-1")
	require.NoError(t, err)
	msg, err := q.TryReceive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, msg, "record not found upstream"))

	router := adminRouter(t, q, "")
	req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int             `json:"count"`
		Messages []queue.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "lead-1", body.Messages[0].Event.RecordID)
	assert.Equal(t, "corr-1", body.Messages[0].CorrelationID)
}
