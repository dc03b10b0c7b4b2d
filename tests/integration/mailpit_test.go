//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailpitClient reads the Mailpit inbox that the smtp transport delivers to.
type MailpitClient struct {
	baseURL string
	http    *http.Client
}

// NewMailpitClient returns a client for the Mailpit REST API.
func NewMailpitClient(host string, port int) *MailpitClient {
	return &MailpitClient{
		baseURL: fmt.Sprintf("http://%s:%d/api/v1", host, port),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitMessage is a captured message. Text is only filled by
// GetMessageByID.
type MailpitMessage struct {
	ID        string           `json:"ID"`
	MessageID string           `json:"MessageID"`
	From      MailpitAddress   `json:"From"`
	To        []MailpitAddress `json:"To"`
	Subject   string           `json:"Subject"`
	Text      string           `json:"Text"`
}

// MailpitAddress is a display name and address pair.
type MailpitAddress struct {
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

func (c *MailpitClient) call(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetMessages lists the inbox, newest first.
func (c *MailpitClient) GetMessages() ([]MailpitMessage, error) {
	var list struct {
		Messages []MailpitMessage `json:"messages"`
	}
	if err := c.call(http.MethodGet, "/messages", &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// GetMessageByID returns one message including its plain text body.
func (c *MailpitClient) GetMessageByID(id string) (*MailpitMessage, error) {
	var msg MailpitMessage
	if err := c.call(http.MethodGet, "/message/"+id, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteAllMessages empties the inbox.
func (c *MailpitClient) DeleteAllMessages() error {
	return c.call(http.MethodDelete, "/messages", nil)
}

// WaitForMessages polls until the inbox holds at least count messages.
func (c *MailpitClient) WaitForMessages(count int, timeout time.Duration) ([]MailpitMessage, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	var (
		messages []MailpitMessage
		err      error
	)
	for {
		messages, err = c.GetMessages()
		if err == nil && len(messages) >= count {
			return messages, nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			if err != nil {
				return messages, fmt.Errorf("wait for %d messages: %w", count, err)
			}
			return messages, fmt.Errorf("wait for %d messages: got %d", count, len(messages))
		}
	}
}
