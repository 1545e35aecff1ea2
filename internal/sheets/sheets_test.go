package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/errs"
)

func TestClient_PostsRow(t *testing.T) {
	var got rowRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sheet-1", "secret")
	err := c.UpsertRow(context.Background(), "performance.csv", []string{"0xabc", "3.0"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "sheet-1", got.SpreadsheetID)
	assert.Equal(t, "upsert", got.Mode)
	assert.Equal(t, []string{"0xabc", "3.0"}, got.Row)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sheet-1", "")
	err := c.AppendRow(context.Background(), "messages.csv", []string{"1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindTransientNetwork, errs.KindOf(err))
}

func TestMemory_UpsertReplacesByKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertRow(ctx, "t", []string{"0xabc", "1.0"}))
	require.NoError(t, m.UpsertRow(ctx, "t", []string{"0xdef", "2.0"}))
	require.NoError(t, m.UpsertRow(ctx, "t", []string{"0xabc", "9.0"}))

	rows := m.Rows("t")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0xabc", "9.0"}, rows[0])
}
