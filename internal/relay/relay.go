// Package relay forwards new timeline items to a Humbug stream and keeps
// the since_id cursor that makes repeated runs idempotent.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/tweetstream/internal/humbug"
	"github.com/ppiankov/tweetstream/internal/privacy"
	"github.com/ppiankov/tweetstream/internal/state"
	"github.com/ppiankov/tweetstream/internal/store"
	"github.com/ppiankov/tweetstream/internal/timeline"
)

const (
	// BootstrapCount is how many items a first run relays.
	BootstrapCount = 5
	DefaultLimit   = 15
)

// StateStore loads and saves the state record.
type StateStore interface {
	Load() (state.Record, error)
	Save(rec state.Record) error
	Location() string
}

// ProviderFactory builds a timeline provider from the stored secrets.
type ProviderFactory func(creds timeline.Credentials) (timeline.Provider, error)

// Sender delivers one message to the destination.
type Sender interface {
	SendMessage(ctx context.Context, msg humbug.Message) error
}

// Journal records deliveries and runs. *store.Store implements it.
type Journal interface {
	RecordDelivery(ctx context.Context, in store.DeliveryInput) error
	RecordRun(ctx context.Context, in store.RunInput) error
}

// Options selects the monitored account, the destination stream and the
// per-run delivery cap.
type Options struct {
	TwitterID string
	Stream    string
	Limit     int // 0 means DefaultLimit
}

func (o Options) validate() error {
	if strings.TrimSpace(o.TwitterID) == "" {
		return errors.New("twitter id is required")
	}
	if strings.TrimSpace(o.Stream) == "" {
		return errors.New("stream is required")
	}
	if o.Limit < 0 {
		return fmt.Errorf("limit must be positive, got %d", o.Limit)
	}
	return nil
}

// Report summarizes one run.
type Report struct {
	Bootstrap bool
	Fetched   int
	Sent      int
	Deferred  int // fetched but not sent this run
	Cursor    int64
}

// Runner relays new timeline items to a stream. State, NewProvider and
// Sender are required; a nil NewProvider or Sender fails the run with a
// DependencyMissingError.
type Runner struct {
	State       StateStore
	NewProvider ProviderFactory
	Sender      Sender
	Journal     Journal           // optional
	Redactor    *privacy.Redactor // applied to journal snippets only
	Log         *slog.Logger      // optional
	Now         func() time.Time  // optional
}

// Run performs one relay pass. The state record is saved exactly once
// after the delivery loop, with the cursor at the last delivered item,
// unless the run fails before fetching completes.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	if err := opts.validate(); err != nil {
		return Report{}, err
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}
	log := r.logger()

	rec, err := r.loadState()
	if err != nil {
		return Report{}, err
	}

	if r.NewProvider == nil {
		return Report{}, &DependencyMissingError{Capability: "timeline provider"}
	}
	if r.Sender == nil {
		return Report{}, &DependencyMissingError{Capability: "message sender"}
	}

	started := r.now()

	provider, err := r.NewProvider(timeline.Credentials{
		ConsumerKey:    rec.ConsumerKey,
		ConsumerSecret: rec.ConsumerSecret,
		AccessToken:    rec.AccessTokenKey,
		AccessSecret:   rec.AccessTokenSecret,
	})
	if err != nil {
		return Report{}, fmt.Errorf("build timeline provider: %w", err)
	}

	acct, err := provider.VerifyCredentials(ctx)
	if err != nil {
		if errors.Is(err, timeline.ErrUnauthorized) {
			return Report{}, &CredentialsError{Err: err}
		}
		return Report{}, fmt.Errorf("verify credentials: %w", err)
	}
	if acct.ID <= 0 {
		return Report{}, &CredentialsError{Err: errors.New("verify returned no account id")}
	}
	log.Debug("credentials verified", "account", acct.Handle, "accountID", acct.ID)

	cursor := rec.SinceID
	bootstrap := !rec.HasCursor()
	owner := rec.UserID
	if owner == "" {
		owner = opts.TwitterID
	}
	if owner != opts.TwitterID {
		log.Info("monitored account changed, starting over", "previous", owner, "current", opts.TwitterID)
		bootstrap = true
		cursor = state.NoCursor
	}

	q := timeline.Query{User: opts.TwitterID}
	if bootstrap {
		q.Count = BootstrapCount
	} else {
		q.SinceID = cursor
	}

	items, err := provider.Timeline(ctx, q)
	if err != nil {
		err = fmt.Errorf("fetch timeline: %w", err)
		r.journalRun(ctx, store.RunInput{
			Account:   opts.TwitterID,
			StartedAt: started,
			Bootstrap: bootstrap,
			Cursor:    cursor,
			Error:     err.Error(),
		})
		return Report{}, err
	}

	batch := deliveryOrder(items, opts.Limit)
	report := Report{Bootstrap: bootstrap, Fetched: len(items)}
	log.Debug("timeline fetched", "bootstrap", bootstrap, "fetched", len(items), "batch", len(batch))

	var runErr error
	for _, it := range batch {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		msg := BuildMessage(opts.Stream, it)
		if err := r.Sender.SendMessage(ctx, msg); err != nil {
			runErr = &DeliveryError{ItemID: it.ID, Msg: destinationMessage(err), Err: err}
			log.Error("delivery failed", "tweetID", it.ID, "stream", opts.Stream, "error", destinationMessage(err))
			break
		}
		report.Sent++
		if it.ID > cursor {
			cursor = it.ID
		}
		log.Debug("delivered", "tweetID", it.ID, "stream", opts.Stream, "cursor", cursor)
		r.journalDelivery(ctx, opts, msg, it)
	}
	report.Deferred = report.Fetched - report.Sent
	report.Cursor = cursor

	rec.SinceID = cursor
	rec.UserID = opts.TwitterID
	if err := r.State.Save(rec); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("save state %s: %w", r.State.Location(), err))
	}

	run := store.RunInput{
		Account:    opts.TwitterID,
		StartedAt:  started,
		FinishedAt: r.now(),
		Bootstrap:  bootstrap,
		Fetched:    report.Fetched,
		Sent:       report.Sent,
		Cursor:     cursor,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	r.journalRun(ctx, run)

	return report, runErr
}

// BuildMessage turns a timeline item into a stream message. The content
// is the item text unchanged.
func BuildMessage(stream string, it timeline.Item) humbug.Message {
	return humbug.Message{
		Type:    humbug.TypeStream,
		To:      []string{stream},
		Subject: fmt.Sprintf("%s (%s)", it.AuthorName, it.AuthorHandle),
		Content: it.Text,
	}
}

// deliveryOrder reverses newest-first items to oldest-first and keeps the
// oldest limit of them.
func deliveryOrder(items []timeline.Item, limit int) []timeline.Item {
	out := make([]timeline.Item, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Runner) loadState() (state.Record, error) {
	if r.State == nil {
		return state.Record{}, &DependencyMissingError{Capability: "state store"}
	}
	rec, err := r.State.Load()
	if err == nil {
		return rec, nil
	}

	reason := err.Error()
	var keyErr *state.MissingKeyError
	switch {
	case errors.Is(err, state.ErrMissingFile):
		reason = state.ErrMissingFile.Error()
	case errors.As(err, &keyErr):
		reason = keyErr.Error()
	}
	return state.Record{}, &ConfigurationError{Path: r.State.Location(), Reason: reason, Err: err}
}

func (r *Runner) journalDelivery(ctx context.Context, opts Options, msg humbug.Message, it timeline.Item) {
	if r.Journal == nil {
		return
	}
	in := store.DeliveryInput{
		Account:     opts.TwitterID,
		ItemID:      it.ID,
		Stream:      opts.Stream,
		Subject:     msg.Subject,
		Text:        it.Text,
		DeliveredAt: r.now(),
	}
	if r.Redactor.Len() > 0 {
		in.Snippet = r.Redactor.Apply(it.Text)
	}
	if err := r.Journal.RecordDelivery(ctx, in); err != nil {
		r.logger().Warn("journal delivery", "tweetID", it.ID, "error", err)
	}
}

func (r *Runner) journalRun(ctx context.Context, in store.RunInput) {
	if r.Journal == nil {
		return
	}
	if err := r.Journal.RecordRun(context.WithoutCancel(ctx), in); err != nil {
		r.logger().Warn("journal run", "error", err)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.New(slog.DiscardHandler)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func destinationMessage(err error) string {
	var apiErr *humbug.APIError
	if errors.As(err, &apiErr) && apiErr.Msg != "" {
		return apiErr.Msg
	}
	return err.Error()
}
