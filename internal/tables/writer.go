// Package tables writes the four normalized CSV output tables under a
// date-scoped directory, with an optional mirror sink that must never fail
// the primary write.
package tables

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Table file names inside each daily directory.
const (
	MessagesTable    = "messages.csv"
	TokenPricesTable = "token_prices.csv"
	PerformanceTable = "performance.csv"
	HistoricalTable  = "historical.csv"
)

const maxMessageTextLen = 500

var headers = map[string][]string{
	MessagesTable:    {"message_id", "timestamp", "channel_name", "message_text", "engagement_score", "crypto_mentions", "sentiment", "confidence"},
	TokenPricesTable: {"address", "chain", "symbol", "price_usd", "market_cap", "volume_24h", "price_change_24h", "liquidity_usd", "pair_created_at"},
	PerformanceTable: {"address", "chain", "first_message_id", "start_price", "start_time", "ath_since_mention", "ath_time", "ath_multiplier", "current_multiplier", "days_tracked"},
	HistoricalTable:  {"address", "chain", "all_time_ath", "all_time_ath_date", "distance_from_ath", "all_time_atl", "all_time_atl_date", "distance_from_atl"},
}

// Mirror is the secondary sheet-style sink. Mirror errors are logged and
// dropped; they never propagate to the caller.
type Mirror interface {
	AppendRow(ctx context.Context, table string, row []string) error
	UpsertRow(ctx context.Context, table string, row []string) error
}

// Extremes is the all-time high/low record behind the HISTORICAL table.
type Extremes struct {
	Address     string
	Chain       models.Chain
	ATH         float64
	ATHDate     time.Time
	ATL         float64
	ATLDate     time.Time
	CurrentUSD  float64
}

// Writer owns the daily CSV files. One mutex per table: writes to a table
// are serialized, writes across tables may interleave.
type Writer struct {
	root    string
	mirror  Mirror
	metrics *telemetry.Metrics
	now     func() time.Time

	locks map[string]*sync.Mutex
}

// NewWriter creates a writer rooted at outputRoot. mirror may be nil.
func NewWriter(outputRoot string, mirror Mirror, metrics *telemetry.Metrics) *Writer {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	locks := make(map[string]*sync.Mutex, len(headers))
	for table := range headers {
		locks[table] = &sync.Mutex{}
	}
	return &Writer{
		root:    outputRoot,
		mirror:  mirror,
		metrics: metrics,
		now:     time.Now,
		locks:   locks,
	}
}

// dayDir returns today's directory, creating it on first use. Rotation is
// implicit: a new local date yields a new directory.
func (w *Writer) dayDir() (string, error) {
	dir := filepath.Join(w.root, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// WriteMessage appends one row to the MESSAGES table.
func (w *Writer) WriteMessage(ctx context.Context, m models.ProcessedMessage) error {
	row := []string{
		strconv.FormatInt(m.Event.MessageID, 10),
		m.Event.Timestamp.UTC().Format(time.RFC3339),
		m.Event.ChannelName,
		truncate(m.Event.Text, maxMessageTextLen),
		formatFloat(m.EngagementScore),
		strings.Join(m.Mentions, ","),
		string(m.Sentiment),
		formatFloat(m.Confidence),
	}
	return w.append(ctx, MessagesTable, row)
}

// WriteTokenPrice upserts one row into TOKEN_PRICES keyed by address.
func (w *Writer) WriteTokenPrice(ctx context.Context, addr models.Address) error {
	s := addr.Snapshot
	if s == nil {
		return nil
	}
	row := []string{
		addr.Raw,
		string(addr.Chain),
		s.Symbol,
		formatFloat(s.PriceUSD),
		formatFloat(s.MarketCap),
		formatFloat(s.Volume24h),
		formatFloat(s.PriceChange24h),
		formatFloat(s.LiquidityUSD),
		strconv.FormatInt(s.PairCreatedAt, 10),
	}
	return w.upsert(ctx, TokenPricesTable, row)
}

// WritePerformance upserts one row into PERFORMANCE keyed by address.
func (w *Writer) WritePerformance(ctx context.Context, o models.SignalOutcome) error {
	row := []string{
		o.Address,
		string(o.Chain),
		strconv.FormatInt(o.FirstMessageID, 10),
		formatFloat(o.EntryPrice),
		o.EntryTime.UTC().Format(time.RFC3339),
		formatFloat(o.ATHPrice),
		o.ATHTime.UTC().Format(time.RFC3339),
		formatFloat(o.ATHMultiplier),
		formatFloat(o.CurrentMult),
		strconv.Itoa(o.DaysTracked(w.now())),
	}
	return w.upsert(ctx, PerformanceTable, row)
}

// WriteHistorical upserts one row into HISTORICAL keyed by address.
// Distances are percentage drops/rises from the respective extreme.
func (w *Writer) WriteHistorical(ctx context.Context, e Extremes) error {
	row := []string{
		e.Address,
		string(e.Chain),
		formatFloat(e.ATH),
		e.ATHDate.UTC().Format("2006-01-02"),
		formatFloat(distanceFrom(e.CurrentUSD, e.ATH)),
		formatFloat(e.ATL),
		e.ATLDate.UTC().Format("2006-01-02"),
		formatFloat(distanceFrom(e.CurrentUSD, e.ATL)),
	}
	return w.upsert(ctx, HistoricalTable, row)
}

func (w *Writer) append(ctx context.Context, table string, row []string) error {
	w.locks[table].Lock()
	defer w.locks[table].Unlock()

	dir, err := w.dayDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, table)

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", table, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write(headers[table]); err != nil {
			return fmt.Errorf("write header %s: %w", table, err)
		}
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write row %s: %w", table, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", table, err)
	}

	w.metrics.RowsWritten.WithLabelValues(table).Inc()
	w.toMirror(ctx, table, row, false)
	return nil
}

func (w *Writer) upsert(ctx context.Context, table string, row []string) error {
	w.locks[table].Lock()
	defer w.locks[table].Unlock()

	dir, err := w.dayDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, table)

	rows, err := readRows(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}

	replaced := false
	for i, existing := range rows {
		if len(existing) > 0 && existing[0] == row[0] {
			rows[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, row)
	}

	if err := writeRows(path, headers[table], rows); err != nil {
		return fmt.Errorf("rewrite %s: %w", table, err)
	}

	w.metrics.RowsWritten.WithLabelValues(table).Inc()
	w.toMirror(ctx, table, row, true)
	return nil
}

func (w *Writer) toMirror(ctx context.Context, table string, row []string, isUpsert bool) {
	if w.mirror == nil {
		return
	}
	var err error
	if isUpsert {
		err = w.mirror.UpsertRow(ctx, table, row)
	} else {
		err = w.mirror.AppendRow(ctx, table, row)
	}
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("sheet mirror write dropped")
	}
}

// readRows returns the data rows of a table file, skipping its header. A
// missing file yields no rows.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil
}

// writeRows rewrites a table file atomically: header plus rows into a temp
// file, then rename.
func writeRows(path string, header []string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// formatFloat renders floats with the shortest exact representation so a
// repeated upsert of the same values produces identical bytes.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// distanceFrom is the percent move from extreme to current: negative below
// an ATH, positive above an ATL.
func distanceFrom(current, extreme float64) float64 {
	if extreme == 0 {
		return 0
	}
	return 100 * (current - extreme) / extreme
}
