// Package zulip provides a client for the messaging and submessage API.
package zulip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client is an API client. Authenticated calls need UserID and APIKey,
// which Register fills in and SaveConfig persists.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     int64
	APIKey     string
	HTTPClient *http.Client
}

// Config holds stored credentials.
type Config struct {
	UserID int64  `json:"user_id"`
	APIKey string `json:"api_key"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Msg)
}

// NewClient creates a new client and loads saved credentials if present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("ZULIP_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".zulip-submessages")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "credentials.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.UserID = config.UserID
	c.APIKey = config.APIKey
	return nil
}

// SaveConfig saves credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{UserID: c.UserID, APIKey: c.APIKey}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "credentials.json"), data, 0600)
}

// doRequest performs an HTTP request and decodes the response into out.
func (c *Client) doRequest(method, path, contentType string, body []byte, authed bool, out any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("X-User-ID", strconv.FormatInt(c.UserID, 10))
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Msg string `json:"msg"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Msg: errResp.Msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) postJSON(path string, in any, authed bool, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.doRequest(http.MethodPost, path, "application/json", body, authed, out)
}

// RegisterResponse is the response from user registration.
type RegisterResponse struct {
	ID         int64  `json:"id"`
	APIKey     string `json:"api_key"`
	ProfileURL string `json:"profile_url"`
}

// Register creates a user and stores its credentials.
func (c *Client) Register(email, fullName string) (*RegisterResponse, error) {
	var resp RegisterResponse
	err := c.postJSON("/users", map[string]string{"email": email, "full_name": fullName}, false, &resp)
	if err != nil {
		return nil, err
	}

	c.UserID = resp.ID
	c.APIKey = resp.APIKey
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream represents a stream.
type Stream struct {
	ID          int64  `json:"stream_id"`
	Name        string `json:"name"`
	Subscribers int64  `json:"subscribers"`
}

// ListStreams lists streams.
func (c *Client) ListStreams() ([]Stream, error) {
	var resp struct {
		Streams []Stream `json:"streams"`
	}
	if err := c.doRequest(http.MethodGet, "/streams", "", nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

// CreateStream creates a stream the caller is subscribed to.
func (c *Client) CreateStream(name string) (*Stream, error) {
	var resp struct {
		Stream Stream `json:"stream"`
	}
	if err := c.postJSON("/streams", map[string]string{"name": name}, true, &resp); err != nil {
		return nil, err
	}
	return &resp.Stream, nil
}

// Subscribe subscribes the caller to a stream.
func (c *Client) Subscribe(streamID int64) error {
	return c.doRequest(http.MethodPost, fmt.Sprintf("/streams/%d/subscribe", streamID), "", nil, true, nil)
}

type sendResponse struct {
	ID int64 `json:"id"`
}

// SendStreamMessage posts to a stream topic and returns the message ID.
func (c *Client) SendStreamMessage(streamID int64, topic, content string) (int64, error) {
	var resp sendResponse
	err := c.postJSON("/messages", map[string]any{
		"type":      "stream",
		"stream_id": streamID,
		"topic":     topic,
		"content":   content,
	}, true, &resp)
	return resp.ID, err
}

// SendPrivateMessage sends a private message and returns its ID.
func (c *Client) SendPrivateMessage(to []int64, content string) (int64, error) {
	var resp sendResponse
	err := c.postJSON("/messages", map[string]any{
		"type":    "private",
		"to":      to,
		"content": content,
	}, true, &resp)
	return resp.ID, err
}

// SubMessage is a submessage as embedded in a message.
type SubMessage struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// Message is a message with its submessages.
type Message struct {
	ID          int64        `json:"id"`
	SenderID    int64        `json:"sender_id"`
	Type        string       `json:"type"`
	StreamID    *int64       `json:"stream_id,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	Content     string       `json:"content"`
	Submessages []SubMessage `json:"submessages"`
	Timestamp   time.Time    `json:"timestamp"`
}

// GetMessages fetches the given messages the caller can see.
func (c *Client) GetMessages(ids ...int64) ([]Message, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	var resp struct {
		Messages []Message `json:"messages"`
	}
	path := "/messages?ids=" + url.QueryEscape(strings.Join(parts, ","))
	if err := c.doRequest(http.MethodGet, path, "", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendSubmessage attaches a submessage to a message. content must be a
// JSON document. The request is form encoded, as widget clients send it.
func (c *Client) SendSubmessage(messageID int64, msgType, content string) (int64, error) {
	form := url.Values{
		"message_id": {strconv.FormatInt(messageID, 10)},
		"msg_type":   {msgType},
		"content":    {content},
	}

	var resp struct {
		SubmessageID int64 `json:"submessage_id"`
	}
	err := c.doRequest(http.MethodPost, "/submessage", "application/x-www-form-urlencoded",
		[]byte(form.Encode()), true, &resp)
	return resp.SubmessageID, err
}

// Event is a queued submessage event.
type Event struct {
	EventID string `json:"event_id"`
	Event   struct {
		Type         string `json:"type"`
		MessageID    int64  `json:"message_id"`
		SubmessageID int64  `json:"submessage_id"`
		Content      string `json:"content"`
		MsgType      string `json:"msg_type"`
		SenderID     int64  `json:"sender_id"`
	} `json:"event"`
	Users []int64 `json:"users"`
}

// GetEvents drains queued events, waiting up to wait for one to arrive.
func (c *Client) GetEvents(limit int, wait time.Duration) ([]Event, error) {
	path := fmt.Sprintf("/events?limit=%d", limit)
	if wait > 0 {
		path += fmt.Sprintf("&wait=%d", int(wait.Seconds()))
	}

	var resp struct {
		Events []Event `json:"events"`
	}
	if err := c.doRequest(http.MethodGet, path, "", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", "", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
