// Package timeline defines the contract the relay uses to read a social
// timeline, and the Twitter implementation of it.
package timeline

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when the provider rejects the credentials.
var ErrUnauthorized = errors.New("credentials rejected")

// Item is a single timeline entry.
type Item struct {
	ID           int64  // increases monotonically within a timeline
	AuthorName   string // display name
	AuthorHandle string // screen name, without "@"
	Text         string
}

// Account is the identity the credentials resolve to.
type Account struct {
	ID     int64
	Handle string
}

// Query selects timeline items. The relay sets either Count (bootstrap)
// or SinceID (incremental), never both.
type Query struct {
	User    string
	Count   int
	SinceID int64
}

// Credentials are the four OAuth 1.0a secrets.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Provider reads a timeline.
type Provider interface {
	// VerifyCredentials resolves the account the credentials belong to.
	VerifyCredentials(ctx context.Context) (Account, error)

	// Timeline returns items newest-first.
	Timeline(ctx context.Context, q Query) ([]Item, error)
}
