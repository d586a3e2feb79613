package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/ppiankov/tweetstream/internal/humbug"
	"github.com/ppiankov/tweetstream/internal/privacy"
	"github.com/ppiankov/tweetstream/internal/relay"
	"github.com/ppiankov/tweetstream/internal/state"
	"github.com/ppiankov/tweetstream/internal/store"
	"github.com/ppiankov/tweetstream/internal/timeline"
	"github.com/spf13/cobra"
)

var (
	relayUser      string
	relayAPIKey    string
	relayTwitterID string
	relaySite      string
	relayStream    string
	relayLimit     int
)

type senderFactory func(creds humbug.Credentials) (relay.Sender, error)

// Swapped in tests.
var (
	newProvider relay.ProviderFactory = timeline.NewTwitterProvider
	newSender   senderFactory         = humbugSender
)

func humbugSender(creds humbug.Credentials) (relay.Sender, error) {
	return humbug.New(creds)
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&relayUser, "user", "", "email address of the sending Humbug user")
	f.StringVar(&relayAPIKey, "api-key", "", "Humbug API key (default from "+config.DefaultHumbugRC+")")
	f.StringVar(&relayTwitterID, "twitter-id", "", "twitter account being relayed")
	f.StringVar(&relaySite, "site", humbug.DefaultSite, "Humbug server URL")
	f.StringVar(&relayStream, "stream", "", "Humbug stream receiving the tweets")
	f.IntVar(&relayLimit, "limit-tweets", relay.DefaultLimit, "maximum tweets to relay per run")
}

type relayPlan struct {
	opts        relay.Options
	creds       humbug.Credentials
	statePath   string
	journalPath string
	journal     bool
	retainDays  int
	redact      []string
}

func planRelay(cmd *cobra.Command, cfg *config.Config) (relayPlan, error) {
	flags := cmd.Flags()

	limit := cfg.Twitter.Limit
	if flags.Changed("limit-tweets") {
		limit = relayLimit
	}
	if limit <= 0 {
		return relayPlan{}, usageErrorf("--limit-tweets must be positive, got %d", limit)
	}

	p := relayPlan{
		opts: relay.Options{
			TwitterID: first(relayTwitterID, cfg.Twitter.ID),
			Stream:    first(relayStream, cfg.Humbug.Stream),
			Limit:     limit,
		},
		statePath:   first(statePath, cfg.Twitter.StateFile),
		journalPath: cfg.Journal.Path,
		journal:     cfg.Journal.On() && !noJournal,
		retainDays:  cfg.Journal.RetainDays,
	}
	if p.opts.TwitterID == "" {
		return relayPlan{}, usageErrorf("--twitter-id is required")
	}
	if p.opts.Stream == "" {
		return relayPlan{}, usageErrorf("--stream is required")
	}
	if cfg.Privacy.Redact.Enabled {
		p.redact = cfg.Privacy.Redact.Patterns
	}

	site := cfg.Humbug.Site
	if flags.Changed("site") {
		site = relaySite
	}
	creds, err := humbug.Resolve(humbug.Credentials{
		Email:  first(relayUser, cfg.Humbug.Email),
		APIKey: first(relayAPIKey, cfg.Humbug.APIKey),
		Site:   site,
	}, first(humbugRC, cfg.Humbug.RCFile))
	if err != nil {
		if errors.Is(err, humbug.ErrIncomplete) {
			return relayPlan{}, &usageError{err: err}
		}
		return relayPlan{}, err
	}
	p.creds = creds
	return p, nil
}

func relayAction(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd.ErrOrStderr())

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	plan, err := planRelay(cmd, cfg)
	if err != nil {
		return err
	}

	stateFile, err := state.NewFile(plan.statePath)
	if err != nil {
		return err
	}

	redactor, err := privacy.New(plan.redact)
	if err != nil {
		return fmt.Errorf("privacy.redact: %w", err)
	}

	runner := &relay.Runner{
		State:       stateFile,
		NewProvider: newProvider,
		Redactor:    redactor,
		Log:         log,
	}
	if newSender != nil {
		sender, err := newSender(plan.creds)
		if err != nil {
			return fmt.Errorf("humbug client: %w", err)
		}
		runner.Sender = sender
	}

	ctx := cmd.Context()

	if plan.journal {
		db := openJournal(plan.journalPath, log)
		if db != nil {
			defer func() { _ = db.Close() }()
			runner.Journal = db
			if n, err := db.PruneOld(ctx, plan.retainDays); err != nil {
				log.Warn("journal prune", "error", err)
			} else if n > 0 {
				log.Debug("journal pruned", "rows", n)
			}
		}
	}

	report, err := runner.Run(ctx, plan.opts)
	var delivery *relay.DeliveryError
	if err == nil || errors.As(err, &delivery) {
		printReport(plan.opts, report)
	}
	return err
}

// openJournal opens the journal or returns nil. A journal that cannot be
// opened never blocks a relay.
func openJournal(path string, log *slog.Logger) *store.Store {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		log.Warn("journal disabled", "error", err)
		return nil
	}
	db, err := store.Open(expanded)
	if err != nil {
		log.Warn("journal disabled", "path", expanded, "error", err)
		return nil
	}
	return db
}

func printReport(opts relay.Options, r relay.Report) {
	cursor := "none"
	if r.Cursor >= 0 {
		cursor = fmt.Sprintf("%d", r.Cursor)
	}
	mode := "incremental"
	if r.Bootstrap {
		mode = "bootstrap"
	}
	fmt.Printf("Relayed %d of %d tweets for %s to stream %q (%s, cursor %s)\n",
		r.Sent, r.Fetched, opts.TwitterID, opts.Stream, mode, cursor)
	if r.Deferred > 0 {
		fmt.Printf("  deferred: %d tweets left for the next run\n", r.Deferred)
	}
}
