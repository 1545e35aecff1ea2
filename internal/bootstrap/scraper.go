// Package bootstrap backfills channel history on startup: recent messages
// per channel, fed through the pipeline, with a resumable progress record.
package bootstrap

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/process"
	"github.com/sawpanic/signalrun/internal/transport"
)

// checkpointEvery is how many messages pass between progress saves.
const checkpointEvery = 10

// ProgressStore persists the per-channel scraping checkpoints.
type ProgressStore interface {
	LoadProgress() (map[string]models.ScrapeProgress, error)
	SaveProgress(map[string]models.ScrapeProgress) error
}

// Handler receives each processed historical message.
type Handler func(ctx context.Context, msg models.ProcessedMessage) error

// Scraper replays recent channel history through the pipeline. Cancellation
// mid-channel checkpoints progress and returns; the next run resumes past
// the last processed message id.
type Scraper struct {
	transport transport.Transport
	processor *process.Processor
	handle    Handler
	store     ProgressStore
	limit     int
	runID     string
	now       func() time.Time
}

// NewScraper builds a scraper. limit caps messages fetched per channel.
func NewScraper(tr transport.Transport, proc *process.Processor, handle Handler, store ProgressStore, limit int, runID string) *Scraper {
	if limit < 1 {
		limit = 100
	}
	return &Scraper{
		transport: tr,
		processor: proc,
		handle:    handle,
		store:     store,
		limit:     limit,
		runID:     runID,
		now:       time.Now,
	}
}

// Run backfills every channel not yet marked complete. Returns a
// cancellation error if interrupted; all other per-channel failures are
// logged and skipped.
func (s *Scraper) Run(ctx context.Context, channels []config.ChannelConfig) error {
	const op = "bootstrap.Run"

	progress, err := s.store.LoadProgress()
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return errs.E(errs.KindCancelled, op, err)
		}

		p := progress[ch.ID]
		p.ChannelID = ch.ID
		if p.ScrapeComplete {
			continue
		}

		if err := s.scrapeChannel(ctx, ch, &p, progress); err != nil {
			if errs.IsCancelled(err) {
				progress[p.ChannelID] = p
				s.checkpoint(progress)
				return err
			}
			log.Error().Err(err).Str("channel", ch.ID).Msg("channel backfill failed, skipping")
			progress[p.ChannelID] = p
			continue
		}

		p.ScrapeComplete = true
		progress[p.ChannelID] = p
		s.checkpoint(progress)
		log.Info().
			Str("channel", ch.ID).
			Int("scraped", p.TotalScraped).
			Int("signals", p.SignalsOpened).
			Msg("channel backfill complete")
	}
	return nil
}

func (s *Scraper) scrapeChannel(ctx context.Context, ch config.ChannelConfig, p *models.ScrapeProgress, progress map[string]models.ScrapeProgress) error {
	events, err := s.transport.FetchRecent(ctx, ch.ID, s.limit)
	if err != nil {
		return err
	}

	// FetchRecent is newest-first; replay oldest-first so in-channel order
	// matches the realtime path.
	sort.Slice(events, func(i, j int) bool {
		return events[i].MessageID < events[j].MessageID
	})

	sinceCheckpoint := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return errs.E(errs.KindCancelled, "bootstrap.scrapeChannel", err)
		}
		if ev.MessageID <= p.LastMessageID {
			continue
		}
		if ev.ChannelName == "" {
			ev.ChannelName = ch.Name
		}

		msg := s.processor.Process(ev)
		if err := s.handle(ctx, msg); err != nil {
			if errs.IsCancelled(err) {
				return err
			}
			log.Warn().Err(err).Int64("message_id", ev.MessageID).Msg("historical message failed")
		} else if msg.CryptoRelevant {
			p.SignalsOpened++
		}

		p.LastMessageID = ev.MessageID
		p.TotalScraped++
		sinceCheckpoint++

		if sinceCheckpoint >= checkpointEvery {
			p.LastCheckpoint = s.now()
			p.RunID = s.runID
			progress[p.ChannelID] = *p
			s.checkpoint(progress)
			sinceCheckpoint = 0
		}
	}

	p.LastCheckpoint = s.now()
	p.RunID = s.runID
	return nil
}

// checkpoint persists progress; a failed save is logged, not fatal, since
// the worst case is re-scraping a few messages.
func (s *Scraper) checkpoint(progress map[string]models.ScrapeProgress) {
	if err := s.store.SaveProgress(progress); err != nil {
		log.Error().Err(err).Msg("scrape progress save failed")
	}
}
