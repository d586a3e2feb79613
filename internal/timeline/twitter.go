package timeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	twitterTimeout   = 30 * time.Second
	twitterTweetMode = "extended"

	// twitterPageSize is the largest count home_timeline accepts.
	twitterPageSize = 200
	twitterMaxPages = 16
)

// Twitter reads the home ("friends") timeline of the authenticated account
// through the v1.1 REST API.
type Twitter struct {
	config    *oauth1.Config
	token     *oauth1.Token
	transport http.RoundTripper
	timeout   time.Duration
}

// Option configures a Twitter provider.
type Option func(*Twitter)

// WithTransport replaces the transport beneath the OAuth1 signer.
func WithTransport(rt http.RoundTripper) Option {
	return func(tw *Twitter) {
		if rt != nil {
			tw.transport = rt
		}
	}
}

// WithTimeout bounds each VerifyCredentials or Timeline call.
func WithTimeout(d time.Duration) Option {
	return func(tw *Twitter) {
		if d > 0 {
			tw.timeout = d
		}
	}
}

// NewTwitter creates a Twitter provider. All four secrets are required.
func NewTwitter(creds Credentials, opts ...Option) (*Twitter, error) {
	if strings.TrimSpace(creds.ConsumerKey) == "" || strings.TrimSpace(creds.ConsumerSecret) == "" {
		return nil, errors.New("twitter: consumer key and secret are required")
	}
	if strings.TrimSpace(creds.AccessToken) == "" || strings.TrimSpace(creds.AccessSecret) == "" {
		return nil, errors.New("twitter: access token and secret are required")
	}
	tw := &Twitter{
		config:    oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret),
		token:     oauth1.NewToken(creds.AccessToken, creds.AccessSecret),
		transport: cleanhttp.DefaultPooledTransport(),
		timeout:   twitterTimeout,
	}
	for _, opt := range opts {
		opt(tw)
	}
	return tw, nil
}

// NewTwitterProvider adapts NewTwitter to the relay's provider factory.
func NewTwitterProvider(creds Credentials) (Provider, error) {
	return NewTwitter(creds)
}

func (tw *Twitter) VerifyCredentials(ctx context.Context) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, tw.timeout)
	defer cancel()

	user, resp, err := tw.client(ctx).Accounts.VerifyCredentials(&twitter.AccountVerifyParams{
		SkipStatus:      twitter.Bool(true),
		IncludeEntities: twitter.Bool(false),
	})
	if err != nil {
		if isUnauthorized(resp) {
			return Account{}, fmt.Errorf("verify credentials: %w: %v", ErrUnauthorized, err)
		}
		return Account{}, fmt.Errorf("verify credentials: %w", err)
	}
	if user == nil {
		return Account{}, nil
	}

	return Account{
		ID:     parseID(user.ID, user.IDStr),
		Handle: user.ScreenName,
	}, nil
}

// Timeline returns one page of Count items when bootstrapping. With a
// SinceID it pages backwards with max_id until the cursor is reached, so
// every item newer than SinceID is returned, newest first.
func (tw *Twitter) Timeline(ctx context.Context, q Query) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, tw.timeout)
	defer cancel()

	client := tw.client(ctx)

	if q.SinceID <= 0 {
		tweets, err := tw.homeTimeline(client, &twitter.HomeTimelineParams{
			Count:     q.Count,
			TweetMode: twitterTweetMode,
		})
		if err != nil {
			return nil, err
		}
		return itemsFromTweets(tweets, 0), nil
	}

	var (
		items []Item
		maxID int64
	)
	for page := 0; page < twitterMaxPages; page++ {
		tweets, err := tw.homeTimeline(client, &twitter.HomeTimelineParams{
			Count:     twitterPageSize,
			SinceID:   q.SinceID,
			MaxID:     maxID,
			TweetMode: twitterTweetMode,
		})
		if err != nil {
			return nil, err
		}
		batch := itemsFromTweets(tweets, q.SinceID)
		if len(batch) == 0 {
			return items, nil
		}
		if maxID > 0 && batch[0].ID > maxID {
			return nil, fmt.Errorf("home timeline: page starts at %d above max_id %d", batch[0].ID, maxID)
		}
		items = append(items, batch...)

		oldest := batch[len(batch)-1].ID
		if oldest <= q.SinceID+1 {
			return items, nil
		}
		maxID = oldest - 1
	}
	return nil, fmt.Errorf("home timeline: more than %d pages newer than %d", twitterMaxPages, q.SinceID)
}

func (tw *Twitter) homeTimeline(client *twitter.Client, params *twitter.HomeTimelineParams) ([]twitter.Tweet, error) {
	tweets, resp, err := client.Timelines.HomeTimeline(params)
	if err != nil {
		if isUnauthorized(resp) {
			return nil, fmt.Errorf("home timeline: %w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("home timeline: %w", err)
	}
	return tweets, nil
}

// client binds a go-twitter client to ctx. go-twitter does not take a
// context, so the context rides on the base transport instead.
func (tw *Twitter) client(ctx context.Context) *twitter.Client {
	base := &http.Client{Transport: contextTransport{ctx: ctx, base: tw.transport}}
	httpClient := tw.config.Client(context.WithValue(ctx, oauth1.HTTPClient, base), tw.token)
	return twitter.NewClient(httpClient)
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// itemsFromTweets drops tweets without an id or at or below sinceID.
func itemsFromTweets(tweets []twitter.Tweet, sinceID int64) []Item {
	items := make([]Item, 0, len(tweets))
	for _, tw := range tweets {
		id := parseID(tw.ID, tw.IDStr)
		if id <= 0 || id <= sinceID {
			continue
		}

		text := tw.FullText
		if text == "" {
			text = tw.Text
		}

		item := Item{ID: id, Text: text}
		if tw.User != nil {
			item.AuthorName = tw.User.Name
			item.AuthorHandle = tw.User.ScreenName
		}
		items = append(items, item)
	}
	return items
}

func parseID(id int64, idStr string) int64 {
	if id != 0 {
		return id
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func isUnauthorized(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}
