// Package api talks to the node's HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/cats-chat/pkg/protocol"
)

// SendPacketPath is the endpoint accepting outbound packets.
const SendPacketPath = "/api/send_packet"

const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response from the node.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error sending: %s %s", e.Status, e.Body)
}

// Client posts packets to a node.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the node at baseURL, e.g. http://localhost:3000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendPacket asks the node to transmit req. Invalid destinations are
// rejected before anything is sent.
func (c *Client) SendPacket(ctx context.Context, req protocol.SendPacketRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Destinations == nil {
		req.Destinations = []protocol.Destination{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode send_packet request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SendPacketPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build send_packet request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "post send_packet")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().Int("status", resp.StatusCode).Msg("send_packet rejected")
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       strings.TrimSpace(string(text)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug().Int("destinations", len(req.Destinations)).Msg("packet sent")
	return nil
}

// statusText mirrors the browser's Response.statusText, e.g. "Bad Request".
func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
