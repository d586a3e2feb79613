package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/tweetstream/internal/config"
	"github.com/spf13/cobra"
)

// loadSettings reads the settings file. The default location may be
// absent; a path given with --config must exist.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	path := configPath
	if strings.TrimSpace(path) == "" {
		path = config.DefaultConfigPath
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load settings: %w", err)
}

// first returns the first non-blank value.
func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
