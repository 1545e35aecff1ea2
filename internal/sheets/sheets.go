// Package sheets mirrors table rows to a spreadsheet webhook. The mirror is
// best-effort by contract: callers log and drop its errors.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
)

// Client posts rows to a sheet webhook endpoint.
type Client struct {
	endpoint      string
	spreadsheetID string
	credential    string
	httpClient    *http.Client
}

// NewClient builds a webhook mirror. The credential is sent as a bearer
// token.
func NewClient(endpoint, spreadsheetID, credential string) *Client {
	return &Client{
		endpoint:      endpoint,
		spreadsheetID: spreadsheetID,
		credential:    credential,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

type rowRequest struct {
	SpreadsheetID string   `json:"spreadsheet_id"`
	Table         string   `json:"table"`
	Mode          string   `json:"mode"`
	Row           []string `json:"row"`
}

// AppendRow mirrors an append.
func (c *Client) AppendRow(ctx context.Context, table string, row []string) error {
	return c.post(ctx, table, "append", row)
}

// UpsertRow mirrors an upsert keyed by the row's first column.
func (c *Client) UpsertRow(ctx context.Context, table string, row []string) error {
	return c.post(ctx, table, "upsert", row)
}

func (c *Client) post(ctx context.Context, table, mode string, row []string) error {
	const op = "sheets.post"

	body, err := json.Marshal(rowRequest{
		SpreadsheetID: c.spreadsheetID,
		Table:         table,
		Mode:          mode,
		Row:           row,
	})
	if err != nil {
		return errs.E(errs.KindFatal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.E(errs.KindFatal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.E(errs.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errs.Tag(errs.KindTransientNetwork, op, fmt.Sprintf("sheet webhook returned %d", resp.StatusCode))
	}
	return nil
}

// Memory is an in-process mirror for tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	rows map[string][][]string
}

// NewMemory returns an empty in-process mirror.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string][][]string)}
}

// AppendRow records the row.
func (m *Memory) AppendRow(ctx context.Context, table string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[table] = append(m.rows[table], append([]string(nil), row...))
	return nil
}

// UpsertRow replaces the row with the same first column, or appends.
func (m *Memory) UpsertRow(ctx context.Context, table string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rows[table] {
		if len(existing) > 0 && existing[0] == row[0] {
			m.rows[table][i] = append([]string(nil), row...)
			return nil
		}
	}
	m.rows[table] = append(m.rows[table], append([]string(nil), row...))
	return nil
}

// Rows returns a copy of the mirrored rows for a table.
func (m *Memory) Rows(table string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows[table]))
	for i, r := range m.rows[table] {
		out[i] = append([]string(nil), r...)
	}
	return out
}
