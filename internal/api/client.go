// ABOUTME: HTTP client for the catalog and session collaborators
// ABOUTME: Fetches the stem catalog, creates and joins sessions, saves mashups
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

// ErrSessionNotFound is returned when a join names no existing session
var ErrSessionNotFound = errors.New("session not found")

// StatusError is a non-2xx response
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// SlotAssignment is one already-chosen slot of a joined session
type SlotAssignment struct {
	Stem     stem.Stem     `json:"stem"`
	Category stem.Category `json:"category"`
}

// CreateResponse is returned by the create endpoint
type CreateResponse struct {
	SessionCode string `json:"sessionCode"`
}

// JoinRequest names the session to join
type JoinRequest struct {
	SessionCode   string `json:"sessionCode"`
	ParticipantID string `json:"participantId,omitempty"`
}

// JoinResponse carries the roster, slot view and shared transport of a joined session.
// Tempo is zero when nobody has changed it; StartAt is relay microseconds.
type JoinResponse struct {
	Participants    []string         `json:"participants"`
	SlotAssignments []SlotAssignment `json:"slotAssignments"`
	Tempo           float64          `json:"tempo,omitempty"`
	IsPlaying       bool             `json:"isPlaying,omitempty"`
	StartAt         int64            `json:"startAt,omitempty"`
}

// MashupRequest saves the current slot selection
type MashupRequest struct {
	Name     string   `json:"name"`
	StemIDs  []string `json:"stemIds"`
	IsPublic bool     `json:"isPublic"`
}

// Client talks to the collaborator REST API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Catalog fetches the user's stems
func (c *Client) Catalog(ctx context.Context) ([]stem.Stem, error) {
	var stems []stem.Stem
	if err := c.do(ctx, http.MethodGet, "/api/stems", nil, &stems); err != nil {
		return nil, err
	}

	valid := stems[:0]
	for _, s := range stems {
		if err := s.Validate(); err != nil {
			continue
		}
		valid = append(valid, s)
	}
	return valid, nil
}

// CreateSession asks for a new session code
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp CreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.SessionCode == "" {
		return "", fmt.Errorf("create session: empty session code")
	}
	return resp.SessionCode, nil
}

// JoinSession fetches the roster and slot assignments of an existing session
func (c *Client) JoinSession(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	var resp JoinResponse
	err := c.do(ctx, http.MethodPost, "/api/sessions/join", req, &resp)

	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil, fmt.Errorf("join %s: %w", req.SessionCode, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveMashup stores a mashup and returns the collaborator's payload untouched
func (c *Client) SaveMashup(ctx context.Context, req MashupRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/mashups", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
