// Package client is a Go consumer of the chat API used by advisorctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/store"
)

// APIError is a non-2xx response decoded from the {error:{message,code}}
// envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Signup(ctx context.Context, email, password string) (*core.Session, error) {
	var out core.Session
	if err := c.do(ctx, http.MethodPost, "/auth/signup", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.token = out.Session.AccessToken
	return &out, nil
}

// Login authenticates and keeps the access token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*core.Session, error) {
	var out core.Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.token = out.Session.AccessToken
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*store.User, error) {
	var out struct {
		User store.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, message string) (*core.SendMessageOutput, error) {
	var out core.SendMessageOutput
	if err := c.do(ctx, http.MethodPost, "/chat/messages", newSendRequest(conversationID, message), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListConversations(ctx context.Context, limit, offset int) (*core.ConversationPage, error) {
	var out core.ConversationPage
	if err := c.do(ctx, http.MethodGet, "/chat/conversations"+pageQuery(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string, limit, offset int) (*core.MessagePage, error) {
	var out core.MessagePage
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages" + pageQuery(limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameConversation(ctx context.Context, conversationID, title string) (*store.Conversation, error) {
	var out store.Conversation
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/rename"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/chat/conversations/"+url.PathEscape(conversationID), nil, nil)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sendRequest struct {
	ConversationID *string `json:"conversationId"`
	Message        string  `json:"message"`
}

func newSendRequest(conversationID, message string) sendRequest {
	req := sendRequest{Message: message}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}
	return req
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: string(core.ErrorInternal), Message: resp.Status}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
