package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"circlefeed/internal/models"
)

// DefaultPageSize is the fixed page size for feed pagination.
const DefaultPageSize = 10

// Client talks to the club backend REST API. It never retries: a failed call
// is reported to the caller and the feed is left unchanged; the user (or the
// next focus refresh) re-triggers the operation.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListResult is one page of a circle feed plus the server-side total.
type ListResult struct {
	Items      []models.Message `json:"data"`
	TotalCount int              `json:"totalCount"`
}

// ListMessages fetches one page of a circle's feed, newest first. The sort is
// requested explicitly rather than relying on the backend default.
func (c *Client) ListMessages(ctx context.Context, circleID, memberID string, skip, limit int) (ListResult, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("circle", circleID)
	q.Set("member", memberID)
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "createdAt:desc")

	var out ListResult
	if err := c.get(ctx, "/messages?"+q.Encode(), &out); err != nil {
		return ListResult{}, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// CreateMessageRequest is the POST /messages body.
type CreateMessageRequest struct {
	Circle              string   `json:"circle"`
	Poster              string   `json:"poster"`
	Body                string   `json:"message"`
	InvitedMembers      []string `json:"invitedMembers"`
	ReferenceResourceID string   `json:"referenceResourceId,omitempty"`
}

// CreateMessage posts a new message and returns the created entity. The
// caller inserts the result into its feed; nothing is inserted optimistically
// before the server has answered.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (models.Message, error) {
	var out models.Message
	if err := c.post(ctx, "/messages", req, &out); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	return out, nil
}

// CreateCommentRequest is the POST /comments body.
type CreateCommentRequest struct {
	CircleMessage string `json:"circleMessage"`
	User          string `json:"user"`
	Body          string `json:"message"`
}

type createCommentResponse struct {
	Data struct {
		ID string `json:"_id"`
	} `json:"data"`
	Comment models.Comment `json:"comment"`
}

// CreateComment posts a new comment on a message and returns the created
// comment.
func (c *Client) CreateComment(ctx context.Context, req CreateCommentRequest) (models.Comment, error) {
	var out createCommentResponse
	if err := c.post(ctx, "/comments", req, &out); err != nil {
		return models.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	cm := out.Comment
	if cm.ID == "" {
		cm.ID = out.Data.ID
	}
	return cm, nil
}

// GetCircle fetches circle metadata, including its status. Feeds of circles
// that are not active never get a live broker connection.
func (c *Client) GetCircle(ctx context.Context, circleID string) (models.Circle, error) {
	var out models.Circle
	if err := c.get(ctx, "/circles/"+url.PathEscape(circleID), &out); err != nil {
		return models.Circle{}, fmt.Errorf("get circle: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("backend returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
