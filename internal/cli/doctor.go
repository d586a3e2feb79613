package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/ppiankov/tweetstream/internal/humbug"
	"github.com/ppiankov/tweetstream/internal/privacy"
	"github.com/ppiankov/tweetstream/internal/state"
	"github.com/ppiankov/tweetstream/internal/store"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check local configuration without contacting any server",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Settings file
	cfg, err := loadSettings(cmd)
	if err != nil {
		printCheck(false, "settings: %v", err)
		ok = false
		cfg = config.Default()
	} else {
		printCheck(true, "settings (stream %q, twitter id %q, limit %d)",
			cfg.Humbug.Stream, cfg.Twitter.ID, cfg.Twitter.Limit)
	}

	// State file
	stateFile, err := state.NewFile(first(statePath, cfg.Twitter.StateFile))
	if err != nil {
		printCheck(false, "state file: %v", err)
		ok = false
	} else if rec, err := stateFile.Load(); err != nil {
		printCheck(false, "state file %s: %v", stateFile.Location(), err)
		ok = false
	} else {
		cursor := "none (next run bootstraps)"
		if rec.HasCursor() {
			cursor = fmt.Sprintf("%d", rec.SinceID)
		}
		printCheck(true, "state file %s (cursor %s)", stateFile.Location(), cursor)
		if info, err := os.Stat(stateFile.Location()); err == nil && info.Mode().Perm()&0o077 != 0 {
			printInfo("state file is readable by other users (chmod 600 %s)", stateFile.Location())
		}
	}

	// Destination credentials
	creds, err := humbug.Resolve(humbug.Credentials{
		Email:  first(relayUser, cfg.Humbug.Email),
		APIKey: first(relayAPIKey, cfg.Humbug.APIKey),
		Site:   cfg.Humbug.Site,
	}, first(humbugRC, cfg.Humbug.RCFile))
	if err != nil {
		printCheck(false, "humbug credentials: %v", err)
		ok = false
	} else {
		printCheck(true, "humbug credentials (%s at %s)", creds.Email, creds.Site)
	}

	// Redaction patterns
	if cfg.Privacy.Redact.Enabled {
		if r, err := privacy.New(cfg.Privacy.Redact.Patterns); err != nil {
			printCheck(false, "redaction: %v", err)
			ok = false
		} else {
			printCheck(true, "redaction (%d patterns)", r.Len())
		}
	}

	// Journal
	if cfg.Journal.On() && !noJournal {
		path, err := config.ExpandPath(cfg.Journal.Path)
		if err == nil {
			var db *store.Store
			db, err = store.Open(path)
			if err == nil {
				_ = db.Close()
			}
		}
		if err != nil {
			printCheck(false, "journal: %v", err)
			ok = false
		} else {
			printCheck(true, "journal %s", path)
		}
	} else {
		printInfo("journal disabled")
	}

	if !ok {
		return errors.New("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
