package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrUnsupported marks a service that does not know the agent or does not
// implement the endpoint (HTTP 404, 405 or 501).
var ErrUnsupported = errors.New("exchange: unsupported")

// StatusError is a non-success HTTP response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exchange: %s: status %d: %s", e.Op, e.Code, e.Body)
}

// Unwrap lets errors.Is match ErrUnsupported for the relevant codes.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return ErrUnsupported
	}
	return nil
}

// Paths are endpoint templates relative to the base URL. "{agent}" is
// replaced with the escaped agent ID.
type Paths struct {
	Initial  string
	Response string
}

// Default endpoint layouts.
var (
	PrimaryPaths = Paths{
		Initial:  "/agents/{agent}/test/initial-message",
		Response: "/agents/{agent}/test/response",
	}
	LegacyPaths = Paths{
		Initial:  "/ai-agents/{agent}/test/initial-message",
		Response: "/ai-agents/{agent}/test/response",
	}
)

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL string
	Paths   Paths
	// Legacy sends the narrower legacy turn payload.
	Legacy bool
	// Token, when set, is sent as a bearer token.
	Token string
	// Timeout bounds each request; zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the transport. Token is ignored when set.
	HTTPClient *http.Client
}

// Client is an HTTP Exchange.
type Client struct {
	base   *url.URL
	paths  Paths
	legacy bool
	http   *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("exchange: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("exchange: parse base url: %w", err)
	}
	if opts.Paths.Initial == "" || opts.Paths.Response == "" {
		return nil, fmt.Errorf("exchange: initial and response paths are required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		if opts.Token != "" {
			src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})
			hc = oauth2.NewClient(context.Background(), src)
		} else {
			hc = &http.Client{}
		}
		hc.Timeout = opts.Timeout
	}

	return &Client{base: base, paths: opts.Paths, legacy: opts.Legacy, http: hc}, nil
}

// Initial implements Exchange.
func (c *Client) Initial(ctx context.Context, agentID string, req InitialRequest) (*InitialResponse, error) {
	var out InitialResponse
	if err := c.post(ctx, "initial", c.endpoint(c.paths.Initial, agentID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Respond implements Exchange.
func (c *Client) Respond(ctx context.Context, agentID string, req TurnRequest) (*TurnResponse, error) {
	var body any = req
	if c.legacy {
		body = legacyTurnRequest{
			Message:             req.Message,
			ConversationHistory: req.ConversationHistory,
			LeadData:            req.LeadData,
		}
	}
	var out TurnResponse
	if err := c.post(ctx, "respond", c.endpoint(c.paths.Response, agentID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) endpoint(tmpl, agentID string) string {
	p := strings.ReplaceAll(tmpl, "{agent}", url.PathEscape(agentID))
	return c.base.String() + "/" + strings.TrimLeft(p, "/")
}

// envelope is the service's standard response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) post(ctx context.Context, op, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("exchange: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("exchange: %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("exchange: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("exchange: %s: decode: %w", op, err)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return fmt.Errorf("exchange: %s: service error: %s", op, msg)
	}
	data := []byte(env.Data)
	if len(env.Data) == 0 || string(env.Data) == "null" {
		data = body
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("exchange: %s: decode data: %w", op, err)
	}
	return nil
}
