package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/model"
)

// DDoSClient talks to the DDoS-protection backend REST API:
// POST {base}/rules/ to create, DELETE {base}/rules/{id} to remove.
// The API key travels in a configurable header, x-api-key by default.
type DDoSClient struct {
	baseURL   string
	apiKey    string
	keyHeader string
	client    *http.Client
}

// NewDDoSClient creates a client from the dispatch configuration.
func NewDDoSClient(cfg config.DDoSConfig) *DDoSClient {
	timeout := 10 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	keyHeader := cfg.KeyHeader
	if keyHeader == "" {
		keyHeader = "x-api-key"
	}
	return &DDoSClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		keyHeader: keyHeader,
		client:    &http.Client{Timeout: timeout},
	}
}

// remoteRule is the JSON body the backend accepts on create.
type remoteRule struct {
	Kind         string `json:"kind"`
	Source       string `json:"source,omitempty"`
	SourceMask   int    `json:"source_mask,omitempty"`
	SourcePort   string `json:"source_port,omitempty"`
	Dest         string `json:"dest,omitempty"`
	DestMask     int    `json:"dest_mask,omitempty"`
	DestPort     string `json:"dest_port,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
	PacketLength string `json:"packet_len,omitempty"`
	Flags        string `json:"flags,omitempty"`
	Action       int    `json:"action"`
	Community    string `json:"community,omitempty"`
	Expires      int64  `json:"expires"`
}

// CreateRule posts the rule to the backend and returns the id it assigned.
func (c *DDoSClient) CreateRule(ctx context.Context, r *model.Rule) (string, error) {
	body := remoteRule{
		Kind:         string(r.Kind),
		Source:       r.Source,
		SourceMask:   r.SourceMask,
		SourcePort:   r.SourcePort,
		Dest:         r.Dest,
		DestMask:     r.DestMask,
		DestPort:     r.DestPort,
		Protocol:     r.Protocol,
		PacketLength: r.PacketLength,
		Flags:        r.Flags,
		Action:       r.ActionID,
		Community:    r.Community,
		Expires:      r.ExpiresAt.Unix(),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &DispatchError{Target: "ddos", Op: "create", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rules/", bytes.NewReader(payload))
	if err != nil {
		return "", &DispatchError{Target: "ddos", Op: "create", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.keyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &DispatchError{Target: "ddos", Op: "create", Unreachable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", &DispatchError{Target: "ddos", Op: "create", StatusCode: resp.StatusCode}
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", &DispatchError{Target: "ddos", Op: "create",
			Err: fmt.Errorf("malformed create response: %w", err)}
	}
	return created.ID.String(), nil
}

// DeleteRule removes a rule from the backend by its remote id. Whether an
// unknown id counts as success is the backend's call; a 404 here is
// surfaced so the caller can decide.
func (c *DDoSClient) DeleteRule(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/rules/"+remoteID, nil)
	if err != nil {
		return &DispatchError{Target: "ddos", Op: "delete", Err: err}
	}
	req.Header.Set(c.keyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &DispatchError{Target: "ddos", Op: "delete", Unreachable: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{Target: "ddos", Op: "delete", StatusCode: resp.StatusCode}
	}
	return nil
}
