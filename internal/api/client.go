// Package api provides access to an audiobook server's HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/llehouerou/shelf/internal/session"
)

// Client provides access to the server API for one connection.
type Client struct {
	baseURL      string
	token        string
	connectionID string
	httpClient   *http.Client
}

// NewClient creates a new API client for the given server connection.
func NewClient(baseURL, token, connectionID string) *Client {
	return &Client{
		baseURL:      baseURL,
		token:        token,
		connectionID: connectionID,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// StartSession opens a playback session for a library item. episodeID is
// empty for books.
func (c *Client) StartSession(ctx context.Context, libraryItemID, episodeID string, forceTranscode bool) (*session.PlaybackSession, error) {
	endpoint := c.baseURL + "/api/items/" + libraryItemID + "/play"
	if episodeID != "" {
		endpoint += "/" + episodeID
	}

	body := playRequest{
		DeviceInfo:      deviceInfo{ClientName: "shelf", ClientVersion: "1.0"},
		ForceTranscode:  forceTranscode,
		ForceDirectPlay: !forceTranscode,
		MediaPlayer:     "shelf",
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.toSession(c.baseURL, c.token, c.connectionID), nil
}

// SyncSession reports playback progress for an open session.
func (c *Client) SyncSession(ctx context.Context, sessionID string, currentTime, timeListened time.Duration) error {
	body := map[string]float64{
		"currentTime":  durationToSeconds(currentTime),
		"timeListened": durationToSeconds(timeListened),
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session/"+sessionID+"/sync", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// CloseSession closes an open session on the server.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session/"+sessionID+"/close", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// FetchLibraries lists the libraries on the server.
func (c *Client) FetchLibraries(ctx context.Context) ([]Library, error) {
	var result struct {
		Libraries []Library `json:"libraries"`
	}
	if err := c.getJSON(ctx, "/api/libraries", &result); err != nil {
		return nil, err
	}
	return result.Libraries, nil
}

// FetchLibraryItems lists the items of one library.
func (c *Client) FetchLibraryItems(ctx context.Context, libraryID string) ([]LibraryItem, error) {
	var result struct {
		Results []LibraryItem `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/libraries/"+libraryID+"/items", &result); err != nil {
		return nil, err
	}
	return result.Results, nil
}

// FetchContinueListening lists the user's in-progress items.
func (c *Client) FetchContinueListening(ctx context.Context) ([]LibraryItem, error) {
	var result struct {
		LibraryItems []LibraryItem `json:"libraryItems"`
	}
	if err := c.getJSON(ctx, "/api/me/items-in-progress", &result); err != nil {
		return nil, err
	}
	return result.LibraryItems, nil
}

// FetchCover downloads raw cover image bytes from an absolute URL.
func (c *Client) FetchCover(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}
