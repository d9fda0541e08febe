// Package signal implements the REST client for the camera backend's
// signaling surface: the stream directory, the consumer negotiation
// endpoints, and the recording index. Every negotiation step is a discrete
// request/response; there is no persistent signaling connection.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Contract-level failures surfaced by the client.
var (
	// ErrStreamNotLive is returned when a stream exists but is not in the
	// live state. This is a terminal precondition failure; callers must
	// not retry.
	ErrStreamNotLive = errors.New("stream is not live")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the backend that is not covered by a
// sentinel error.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// API is the collaborator contract the playback core depends on. Implemented
// by Client against the real backend and by fakes in tests.
type API interface {
	Stream(ctx context.Context, streamID string) (StreamDescriptor, error)
	RouterCapabilities(ctx context.Context, streamID string) (RTPCapabilities, error)
	AttachConsumer(ctx context.Context, streamID string, req AttachRequest) (AttachResponse, error)
	DetachConsumer(ctx context.Context, consumerID string) error
	Heartbeat(ctx context.Context, consumerID string) error
	RecordingDates(ctx context.Context, streamID string) ([]RecordingDate, error)
	SegmentIndexURL(streamID string, filter SourceFilter) string
}

const defaultRequestTimeout = 10 * time.Second

// Client talks to the camera backend over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient returns a Client for the backend at baseURL. token is attached
// as a bearer token to every request; it may be empty for unauthenticated
// backends. httpClient may be nil to use a default with a request timeout.
func NewClient(baseURL, token string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		log:     log,
	}
}

// Stream fetches the stream directory entry for streamID.
func (c *Client) Stream(ctx context.Context, streamID string) (StreamDescriptor, error) {
	var desc StreamDescriptor
	err := c.getJSON(ctx, fmt.Sprintf("/api/v2/streams/%s", url.PathEscape(streamID)), &desc)
	if err != nil {
		return StreamDescriptor{}, fmt.Errorf("fetch stream %s: %w", streamID, err)
	}
	return desc, nil
}

// RouterCapabilities fetches the media router's supported codec set for the
// stream. A failure here means negotiation cannot proceed.
func (c *Client) RouterCapabilities(ctx context.Context, streamID string) (RTPCapabilities, error) {
	var caps RTPCapabilities
	err := c.getJSON(ctx, fmt.Sprintf("/api/v2/streams/%s/router-capabilities", url.PathEscape(streamID)), &caps)
	if err != nil {
		return RTPCapabilities{}, fmt.Errorf("fetch router capabilities for %s: %w", streamID, err)
	}
	return caps, nil
}

// AttachConsumer requests a consumer attachment on the stream. The response
// carries the server-assigned consumerId plus everything needed to build the
// local receive transport.
func (c *Client) AttachConsumer(ctx context.Context, streamID string, req AttachRequest) (AttachResponse, error) {
	var resp AttachResponse
	path := fmt.Sprintf("/api/v2/streams/%s/consumers", url.PathEscape(streamID))
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return AttachResponse{}, fmt.Errorf("attach consumer on %s: %w", streamID, err)
	}
	return resp, nil
}

// DetachConsumer releases the server-side consumer. Callers treat this as
// fire-and-forget: a failure is logged, not escalated.
func (c *Client) DetachConsumer(ctx context.Context, consumerID string) error {
	path := fmt.Sprintf("/api/v2/consumers/%s", url.PathEscape(consumerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Heartbeat tells the backend the consumer is still being watched. The
// backend reaps consumers that go quiet for too long.
func (c *Client) Heartbeat(ctx context.Context, consumerID string) error {
	path := fmt.Sprintf("/api/v2/consumers/%s/heartbeat", url.PathEscape(consumerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// RecordingDates lists the calendar days with recorded segments for the
// stream, newest first.
func (c *Client) RecordingDates(ctx context.Context, streamID string) ([]RecordingDate, error) {
	var resp struct {
		Dates []RecordingDate `json:"dates"`
	}
	path := fmt.Sprintf("/api/v2/recordings/%s/dates", url.PathEscape(streamID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("fetch recording dates for %s: %w", streamID, err)
	}
	return resp.Dates, nil
}

// SegmentIndexURL builds the segment-index (playlist) URL for the stream's
// historical feed, optionally narrowed by an explicit date/time filter.
func (c *Client) SegmentIndexURL(streamID string, filter SourceFilter) string {
	u := fmt.Sprintf("%s/api/v2/recordings/%s/playlist.m3u8", c.baseURL, url.PathEscape(streamID))
	q := url.Values{}
	if filter.Date != "" {
		q.Set("date", filter.Date)
	}
	if filter.StartTime > 0 {
		q.Set("start", strconv.Itoa(int(filter.StartTime.Seconds())))
	}
	if filter.EndTime > 0 {
		q.Set("end", strconv.Itoa(int(filter.EndTime.Seconds())))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
