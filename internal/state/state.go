// Package state reads and writes the relay state file: Twitter OAuth
// secrets plus the since_id cursor and the monitored account it belongs to.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/ini.v1"
)

const (
	DefaultPath = "~/.humbug_twitterrc"
	Section     = "twitter"

	KeyConsumerKey       = "consumer_key"
	KeyConsumerSecret    = "consumer_secret"
	KeyAccessTokenKey    = "access_token_key"
	KeyAccessTokenSecret = "access_token_secret"
	KeySinceID           = "since_id"
	KeyUserID            = "user_id"

	// NoCursor marks a record that has not relayed anything yet.
	NoCursor int64 = -1
)

var (
	ErrMissingFile    = errors.New("state file does not exist")
	ErrMissingSection = fmt.Errorf("state file has no [%s] section", Section)
)

// MissingKeyError reports a required secret that is absent or empty.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("[%s] %s is missing or empty", Section, e.Key)
}

var requiredKeys = []string{
	KeyConsumerKey,
	KeyConsumerSecret,
	KeyAccessTokenKey,
	KeyAccessTokenSecret,
}

// Record is the persisted state of one relay installation.
type Record struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessTokenKey    string
	AccessTokenSecret string

	// SinceID is the id of the last relayed tweet, or NoCursor.
	SinceID int64
	// UserID is the monitored account the cursor belongs to.
	UserID string

	// file keeps sections and keys the relay does not manage so Save
	// writes them back untouched.
	file *ini.File
}

// HasCursor reports whether a previous run relayed at least one tweet.
func (r Record) HasCursor() bool {
	return r.SinceID >= 0
}

// File is a state record stored at a filesystem path.
type File struct {
	Path string
}

// NewFile returns a File for path, expanding a leading "~".
func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand state path %q: %w", path, err)
	}
	return &File{Path: expanded}, nil
}

func (f *File) Location() string {
	return f.Path
}

func (f *File) Load() (Record, error) {
	return Load(f.Path)
}

func (f *File) Save(rec Record) error {
	return Save(f.Path, rec)
}

func loadOptions() ini.LoadOptions {
	// Secrets are read back exactly as Save wrote them: '#', ';', a
	// trailing '\' and surrounding quotes are part of the value.
	return ini.LoadOptions{
		IgnoreInlineComment:     true,
		IgnoreContinuation:      true,
		PreserveSurroundedQuote: true,
	}
}

// Load reads the state file at path and validates that all four secrets
// are present.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return Record{}, fmt.Errorf("read state file: %w", err)
	}

	f, err := ini.LoadSources(loadOptions(), data)
	if err != nil {
		return Record{}, fmt.Errorf("parse state file: %w", err)
	}

	sec, err := f.GetSection(Section)
	if err != nil {
		return Record{}, ErrMissingSection
	}

	for _, key := range requiredKeys {
		if strings.TrimSpace(sec.Key(key).String()) == "" {
			return Record{}, &MissingKeyError{Key: key}
		}
	}

	rec := Record{
		ConsumerKey:       sec.Key(KeyConsumerKey).String(),
		ConsumerSecret:    sec.Key(KeyConsumerSecret).String(),
		AccessTokenKey:    sec.Key(KeyAccessTokenKey).String(),
		AccessTokenSecret: sec.Key(KeyAccessTokenSecret).String(),
		SinceID:           NoCursor,
		UserID:            strings.TrimSpace(sec.Key(KeyUserID).String()),
		file:              f,
	}

	if raw := strings.TrimSpace(sec.Key(KeySinceID).String()); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("[%s] %s: %w", Section, KeySinceID, err)
		}
		if id >= 0 {
			rec.SinceID = id
		}
	}

	return rec, nil
}

// Save writes rec to path atomically: the content goes to a temporary file
// in the same directory which is then renamed over path.
func Save(path string, rec Record) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is required")
	}

	f := rec.file
	if f == nil {
		f = ini.Empty(loadOptions())
	}

	sec := f.Section(Section)
	sec.Key(KeyConsumerKey).SetValue(rec.ConsumerKey)
	sec.Key(KeyConsumerSecret).SetValue(rec.ConsumerSecret)
	sec.Key(KeyAccessTokenKey).SetValue(rec.AccessTokenKey)
	sec.Key(KeyAccessTokenSecret).SetValue(rec.AccessTokenSecret)

	if rec.HasCursor() {
		sec.Key(KeySinceID).SetValue(strconv.FormatInt(rec.SinceID, 10))
	} else {
		sec.DeleteKey(KeySinceID)
	}
	if rec.UserID != "" {
		sec.Key(KeyUserID).SetValue(rec.UserID)
	} else {
		sec.DeleteKey(KeyUserID)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Template is written by "tweetstream init" for the operator to fill in.
const Template = `# tweetstream state file
#
# Register an application at https://developer.twitter.com, create an
# access token for it, and paste the four values below. since_id and
# user_id are managed by tweetstream.

[twitter]
consumer_key =
consumer_secret =
access_token_key =
access_token_secret =
`
