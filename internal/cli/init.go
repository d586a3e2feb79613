package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/ppiankov/tweetstream/internal/state"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a state file template and example settings",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	stateFile, err := config.ExpandPath(first(statePath, config.DefaultStatePath))
	if err != nil {
		return err
	}
	settingsFile, err := config.ExpandPath(first(configPath, config.DefaultConfigPath))
	if err != nil {
		return err
	}

	created := 0

	if err := os.MkdirAll(filepath.Dir(stateFile), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	// The state file holds secrets.
	wrote, err := writeIfNotExists(stateFile, []byte(state.Template), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if err := os.MkdirAll(filepath.Dir(settingsFile), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	wrote, err = writeIfNotExists(settingsFile, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Println("Already initialized.")
	} else {
		fmt.Printf("Created %d files. Fill in the [%s] secrets in %s before the first run.\n",
			created, state.Section, stateFile)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# tweetstream settings
# Every value is optional; command-line flags take precedence.

humbug:
  site: https://humbughq.com
  email: ""
  api_key_env: HUMBUG_API_KEY
  stream: tweets
  # rc_file: ~/.humbugrc

twitter:
  id: ""
  limit: 15
  state_file: ~/.humbug_twitterrc

journal:
  enabled: true
  path: ~/.tweetstream/journal.db
  retain_days: 90

privacy:
  redact:
    enabled: false
    patterns: []
`
