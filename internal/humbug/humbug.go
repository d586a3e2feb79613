// Package humbug is a minimal client for the Humbug messaging API: it sends
// stream messages and resolves the sender's credentials.
package humbug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	DefaultSite = "https://humbughq.com"

	humbugTimeout   = 30 * time.Second
	humbugUserAgent = "tweetstream/1.0"
	messagesPath    = "/api/v1/messages"

	TypeStream = "stream"
)

// Message is an outbound message.
type Message struct {
	Type    string
	To      []string
	Subject string
	Content string
}

// APIError is a message the server refused.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("humbug: status %d", e.Status)
	}
	return fmt.Sprintf("humbug: %s (status %d)", e.Msg, e.Status)
}

type sendResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

// Client sends messages as one Humbug user.
type Client struct {
	site   string
	email  string
	apiKey string
	client *http.Client
}

// New creates a client. Email and API key are required; an empty site
// means DefaultSite.
func New(creds Credentials) (*Client, error) {
	if strings.TrimSpace(creds.Email) == "" {
		return nil, errors.New("humbug: email is required")
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, errors.New("humbug: api key is required")
	}

	site := strings.TrimRight(strings.TrimSpace(creds.Site), "/")
	if site == "" {
		site = DefaultSite
	}
	u, err := url.Parse(site)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("humbug: invalid site %q", creds.Site)
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = humbugTimeout

	return &Client{
		site:   site,
		email:  strings.TrimSpace(creds.Email),
		apiKey: strings.TrimSpace(creds.APIKey),
		client: client,
	}, nil
}

// Site returns the base URL messages are posted to.
func (c *Client) Site() string {
	return c.site
}

// SendMessage posts msg. A "result": "error" response is returned as
// *APIError carrying the server's message.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	to, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	form := url.Values{}
	form.Set("type", msg.Type)
	form.Set("to", string(to))
	form.Set("subject", msg.Subject)
	form.Set("content", msg.Content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.site+messagesPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", humbugUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if out.Result == "error" || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Msg: out.Msg}
	}
	return nil
}
