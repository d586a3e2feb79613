package humbug

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/gcfg.v1"
)

// DefaultRCPath is the local credential store used when no API key is
// given on the command line.
const DefaultRCPath = "~/.humbugrc"

// ErrNoRC is returned by LoadRC when the credential store does not exist.
var ErrNoRC = errors.New("humbug credential store does not exist")

// ErrIncomplete is returned by Resolve when no source supplied an email
// and api key.
var ErrIncomplete = errors.New("humbug email and api key are required")

// Credentials identify the sending user.
type Credentials struct {
	Email  string
	APIKey string
	Site   string
}

// Merge fills the empty fields of c from fallback.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if strings.TrimSpace(c.Email) == "" {
		c.Email = fallback.Email
	}
	if strings.TrimSpace(c.APIKey) == "" {
		c.APIKey = fallback.APIKey
	}
	if strings.TrimSpace(c.Site) == "" {
		c.Site = fallback.Site
	}
	return c
}

// Complete reports whether c can authenticate.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Email) != "" && strings.TrimSpace(c.APIKey) != ""
}

type rcFile struct {
	API struct {
		Email string
		Key   string
		Site  string
	}
}

// LoadRC reads the [api] section of a humbugrc file.
func LoadRC(path string) (Credentials, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultRCPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("expand %q: %w", path, err)
	}

	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrNoRC, expanded)
		}
		return Credentials{}, fmt.Errorf("stat %s: %w", expanded, err)
	}

	var rc rcFile
	// Sections and variables we don't model are warnings, not failures.
	if err := gcfg.FatalOnly(gcfg.ReadFileInto(&rc, expanded)); err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", expanded, err)
	}

	return Credentials{
		Email:  strings.TrimSpace(rc.API.Email),
		APIKey: strings.TrimSpace(rc.API.Key),
		Site:   strings.TrimSpace(rc.API.Site),
	}, nil
}

// Resolve completes creds with the credential store at rcPath, then falls
// back to DefaultSite. The store is only read when email or key is
// missing; an absent store is not an error.
func Resolve(creds Credentials, rcPath string) (Credentials, error) {
	if !creds.Complete() {
		rc, err := LoadRC(rcPath)
		if err != nil && !errors.Is(err, ErrNoRC) {
			return creds, err
		}
		creds = creds.Merge(rc)
	}
	if strings.TrimSpace(creds.Site) == "" {
		creds.Site = DefaultSite
	}
	if !creds.Complete() {
		return creds, fmt.Errorf("%w (use --user/--api-key or ~/.humbugrc)", ErrIncomplete)
	}
	return creds, nil
}
