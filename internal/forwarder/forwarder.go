// Package forwarder is the use case that turns a detected creator post into
// durable delivery intents.
//
// It resolves destinations, fetches media through the engine chain, then in
// one transaction auto-provisions any missing mapping and appends one outbox
// event per destination. The dispatcher picks delivery up from there.
//
// With a job queue attached the outbox is bypassed: one queue job is written
// per destination and the media fetch is deferred to the queue worker, which
// runs the same engine chain at delivery time.
package forwarder

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/engine"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/events"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/mapping"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/queue"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// MappingStore is the mapping surface the use case needs: resolution plus a
// transactional upsert for auto-provisioned destinations.
type MappingStore interface {
	mapping.Resolver
	Upsert(ctx context.Context, tx *sql.Tx, m mapping.Mapping) error
}

// SelectionFunc supplies the engine chain order. It is called at fetch time
// so configuration changes apply to the next post without a restart.
type SelectionFunc func() engine.Selection

type Forwarder struct {
	db        *sql.DB
	outbox    outbox.Store
	mappings  MappingStore
	engines   *engine.Registry
	selection SelectionFunc
	jobs      *queue.Store
	log       logx.Logger
}

func New(db *sql.DB, ob outbox.Store, mappings MappingStore, engines *engine.Registry, selection SelectionFunc, log logx.Logger) *Forwarder {
	return &Forwarder{
		db:        db,
		outbox:    ob,
		mappings:  mappings,
		engines:   engines,
		selection: selection,
		log:       log,
	}
}

// UseJobQueue switches the forwarder from the outbox to the job queue.
// Intended to be called once, during wiring.
func (f *Forwarder) UseJobQueue(jobs *queue.Store) {
	f.jobs = jobs
}

// ForwardPost records delivery intents for one detected post.
//
// Validation failures return immediately with nothing written. When the
// engine chain is exhausted, any auto-provisioned mapping still commits but
// no event is written, and the aggregated chain error is returned.
func (f *Forwarder) ForwardPost(ctx context.Context, username, postURL string) error {
	sanitized, err := mapping.SanitizeUsername(username)
	if err != nil {
		return err
	}
	if err := validatePostURL(postURL); err != nil {
		return err
	}

	targets, err := f.mappings.FindMappings(ctx, sanitized)
	if err != nil {
		return fmt.Errorf("resolve mappings for %s: %w", sanitized, err)
	}

	// Unmapped creator: provision a destination before fetching so the
	// mapping survives even a failed fetch.
	var provisioned *mapping.Mapping
	if len(targets) == 0 {
		chatID, err := f.mappings.ProvisionChannel(ctx, sanitized)
		if err != nil {
			return fmt.Errorf("provision channel for %s: %w", sanitized, err)
		}
		provisioned = &mapping.Mapping{Username: sanitized, ChannelID: chatID}
		targets = []mapping.Mapping{*provisioned}
		f.log.Info("auto-provisioned destination",
			logx.String("username", sanitized), logx.Int64("chat", chatID))
	}

	if f.jobs != nil {
		return f.forwardViaQueue(ctx, sanitized, postURL, targets, provisioned)
	}

	result, fetchErr := f.engines.Download(ctx, postURL, f.selection())
	if fetchErr != nil {
		f.log.Warn("media fetch failed",
			logx.String("username", sanitized),
			logx.String("url", postURL),
			logx.Err(fetchErr))
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if provisioned != nil {
		if err := f.mappings.Upsert(ctx, tx, *provisioned); err != nil {
			return err
		}
	}

	if fetchErr == nil {
		for _, t := range targets {
			ev, err := outbox.NewEvent(events.TypePostDetected,
				events.AggregateID(sanitized, t.ChannelID),
				payloadFor(sanitized, postURL, t, result))
			if err != nil {
				return err
			}
			if err := f.outbox.Save(ctx, tx, ev); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if fetchErr != nil {
		return fetchErr
	}
	f.log.Info("post recorded",
		logx.String("username", sanitized),
		logx.Int("targets", len(targets)))
	return nil
}

// forwardViaQueue records one job per destination. The payload carries no
// media; the queue worker resolves it through the engine chain when the job
// is delivered.
func (f *Forwarder) forwardViaQueue(ctx context.Context, username, postURL string, targets []mapping.Mapping, provisioned *mapping.Mapping) error {
	if provisioned != nil {
		tx, err := f.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()
		if err := f.mappings.Upsert(ctx, tx, *provisioned); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	for _, t := range targets {
		if _, err := f.jobs.Enqueue(ctx, payloadFor(username, postURL, t, nil)); err != nil {
			return fmt.Errorf("enqueue delivery for %s: %w", username, err)
		}
	}
	f.log.Info("post queued",
		logx.String("username", username),
		logx.Int("targets", len(targets)))
	return nil
}

func payloadFor(username, postURL string, t mapping.Mapping, r *engine.DownloadResult) events.PostDetected {
	p := events.PostDetected{
		Username: username,
		PostURL:  postURL,
		ChatID:   t.ChannelID,
		RoleID:   t.RoleID,
	}
	if r == nil {
		return p
	}
	p.Description = r.Description
	p.Author = r.Author
	switch m := r.Media.(type) {
	case engine.Video:
		p.MediaKind = "video"
		p.MediaURLs = m.URLs
	case engine.Image:
		p.MediaKind = "image"
		p.MediaURLs = m.URLs
	}
	return p
}

func validatePostURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid post url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid post url %q", raw)
	}
	return nil
}
