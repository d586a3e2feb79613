package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/ppiankov/tweetstream/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyAccount string
	historyFormat  string
	historyRuns    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show relayed tweets or past runs from the journal",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show (0 for all)")
	historyCmd.Flags().StringVar(&historyAccount, "account", "", "only deliveries for this twitter account")
	historyCmd.Flags().StringVar(&historyFormat, "format", "terminal", "output format: terminal, json")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "list runs instead of deliveries")
	rootCmd.AddCommand(historyCmd)
}

func historyAction(cmd *cobra.Command, _ []string) error {
	switch historyFormat {
	case "terminal", "", "json":
	default:
		return usageErrorf("unknown format %q (want terminal or json)", historyFormat)
	}
	if historyLimit < 0 {
		return usageErrorf("--limit must not be negative, got %d", historyLimit)
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	path, err := config.ExpandPath(cfg.Journal.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if historyFormat == "json" {
			fmt.Fprintln(os.Stdout, "[]")
			return nil
		}
		fmt.Fprintln(os.Stdout, "No journal found. Nothing has been relayed yet.")
		return nil
	}

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	if historyRuns {
		runs, err := db.ListRuns(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if historyFormat == "json" {
			return printRunsJSON(os.Stdout, runs)
		}
		printRuns(os.Stdout, runs)
		return nil
	}

	deliveries, err := db.ListDeliveries(ctx, store.DeliveryFilter{Account: historyAccount, Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	if historyFormat == "json" {
		return printDeliveriesJSON(os.Stdout, deliveries)
	}
	printDeliveries(os.Stdout, deliveries)
	return nil
}

type jsonDelivery struct {
	Account     string    `json:"account"`
	TweetID     int64     `json:"tweet_id"`
	Stream      string    `json:"stream"`
	Subject     string    `json:"subject"`
	Snippet     string    `json:"snippet"`
	TextHash    string    `json:"text_hash"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type jsonRun struct {
	Account    string    `json:"account"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Bootstrap  bool      `json:"bootstrap"`
	Fetched    int       `json:"fetched"`
	Sent       int       `json:"sent"`
	Cursor     *int64    `json:"cursor"`
	Error      string    `json:"error,omitempty"`
}

func printDeliveriesJSON(w io.Writer, deliveries []store.Delivery) error {
	out := make([]jsonDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, jsonDelivery{
			Account:     d.Account,
			TweetID:     d.ItemID,
			Stream:      d.Stream,
			Subject:     d.Subject,
			Snippet:     d.Snippet,
			TextHash:    d.TextHash,
			DeliveredAt: d.DeliveredAt,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printRunsJSON(w io.Writer, runs []store.Run) error {
	out := make([]jsonRun, 0, len(runs))
	for _, r := range runs {
		jr := jsonRun{
			Account:    r.Account,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Bootstrap:  r.Bootstrap,
			Fetched:    r.Fetched,
			Sent:       r.Sent,
			Error:      r.Error,
		}
		if r.Cursor >= 0 {
			cursor := r.Cursor
			jr.Cursor = &cursor
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printDeliveries(w io.Writer, deliveries []store.Delivery) {
	if len(deliveries) == 0 {
		fmt.Fprintln(w, "No deliveries recorded.")
		return
	}
	for _, d := range deliveries {
		fmt.Fprintf(w, "%s  %-20d  %s -> %s\n",
			d.DeliveredAt.Local().Format("2006-01-02 15:04"), d.ItemID, d.Subject, d.Stream)
		if d.Snippet != "" {
			fmt.Fprintf(w, "    %s\n", oneLine(d.Snippet))
		}
	}
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		mode := "incremental"
		if r.Bootstrap {
			mode = "bootstrap"
		}
		status := "ok"
		if r.Error != "" {
			status = "error: " + r.Error
		}
		cursor := "none"
		if r.Cursor >= 0 {
			cursor = fmt.Sprintf("%d", r.Cursor)
		}
		fmt.Fprintf(w, "%s  %-15s  %-11s  sent %d/%d  cursor %s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Account, mode, r.Sent, r.Fetched, cursor, status)
	}
}

func oneLine(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
