// Package restapi is the HTTP client for the chat backend's REST surface:
// user profiles, conversations, message history, and file uploads. Real-time
// delivery goes through the transport package; everything here is
// request/response.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vzorr/chat-test-client-sub001/auth"
	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/message"
)

// User is a chat participant profile
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Online    bool   `json:"online"`
}

// Conversation is a chat thread between participants
type Conversation struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id,omitempty"`
	Participants []User    `json:"participants"`
	UnreadCount  int       `json:"unread_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HistoryPage is one page of a conversation's message history
type HistoryPage struct {
	Messages []message.Inbound `json:"messages"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// Upload describes a stored file
type Upload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// Client talks to the chat backend's REST API
type Client struct {
	baseURL  string
	http     *http.Client
	provider auth.Provider
	logger   *slog.Logger
}

// New creates a REST client. provider supplies the bearer token per request.
func New(cfg config.APIConfig, provider auth.Provider, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "api base url required")
	}
	if provider == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "nil auth provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: timeout},
		provider: provider,
		logger:   logger.With("component", "restapi"),
	}, nil
}

// Me fetches the authenticated user's profile
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser fetches a user profile by id
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "GetUser", "empty user id")
	}
	var user User
	if err := c.get(ctx, "/api/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateMe updates the authenticated user's profile fields
func (c *Client) UpdateMe(ctx context.Context, user User) (*User, error) {
	var updated User
	if err := c.put(ctx, "/api/users/me", user, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListConversations fetches the caller's conversations
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.get(ctx, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation opens a conversation with the given participants,
// optionally bound to a job
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string, jobID string) (*Conversation, error) {
	if len(participantIDs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "CreateConversation", "no participants")
	}
	body := map[string]any{"participant_ids": participantIDs}
	if jobID != "" {
		body["job_id"] = jobID
	}
	var conv Conversation
	if err := c.post(ctx, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetMessages fetches one page of a conversation's history, newest first
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, limit int) (*HistoryPage, error) {
	if conversationID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "GetMessages", "empty conversation id")
	}
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var hist HistoryPage
	path := "/api/messages/conversation/" + url.PathEscape(conversationID)
	if err := c.get(ctx, path, q, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// MarkConversationRead marks all messages in a conversation as read
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "MarkConversationRead", "empty conversation id")
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.post(ctx, path, struct{}{}, nil)
}

// UploadFile stores a file and returns its reference for use as a message
// attachment
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*Upload, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "UploadFile", "empty file name")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "UploadFile", "build form")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, errors.WrapTransient(err, "Client", "UploadFile", "read file")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "UploadFile", "finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", &buf)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "UploadFile", "build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var upload Upload
	if err := c.send(req, &upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

// GetUpload fetches the metadata of a stored file
func (c *Client) GetUpload(ctx context.Context, fileID string) (*Upload, error) {
	if fileID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "GetUpload", "empty file id")
	}
	var upload Upload
	if err := c.get(ctx, "/api/files/"+url.PathEscape(fileID), nil, &upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "get", "build request")
	}
	return c.send(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.write(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.write(ctx, http.MethodPut, path, body, out)
}

func (c *Client) write(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "write", "encode body")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Client", "write", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

// send attaches the bearer token, executes the request, and decodes the
// response. Status codes classify the error: 401/403 are auth failures,
// other 4xx are invalid, 5xx and network errors are transient.
func (c *Client) send(req *http.Request, out any) error {
	token, err := c.provider.Token(req.Context())
	if err != nil {
		return errors.WrapTransient(err, "Client", "send", "obtain credential")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Client", "send", "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode)
		httpErr := fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errors.WrapInvalid(errors.ErrAuthFailed, "Client", "send", httpErr.Error())
		case resp.StatusCode < 500:
			return errors.WrapInvalid(httpErr, "Client", "send", "request rejected")
		default:
			return errors.WrapTransient(httpErr, "Client", "send", "server error")
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapTransient(err, "Client", "send", "decode response")
	}
	return nil
}
