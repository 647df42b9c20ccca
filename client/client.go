package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvas-backend/domain/element"
	"canvas-backend/domain/events"
	"canvas-backend/pkg/utils"

	"go.uber.org/zap"
)

// Client bundles the live update channel, the scene reconciler, and the
// request/response sync path against one server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	scene      *Scene
	reconciler *Reconciler
	channel    *Channel
	logger     *zap.Logger
}

// Options configures optional client collaborators.
type Options struct {
	// Converter handles mermaid_convert events. Nil disables conversion.
	Converter Converter

	// OnUnknown receives events with unrecognized type tags.
	OnUnknown func(events.Unknown)

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// New creates a client for the server at baseURL (e.g. http://localhost:3000).
func New(baseURL string, opts Options, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		scene:      NewScene(),
		logger:     logger,
	}

	c.reconciler = NewReconciler(c.scene, opts.Converter, c.syncScene, opts.OnUnknown, logger)

	wsURL := *parsed
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + "/ws"

	c.channel = NewChannel(wsURL.String(), c.dispatch, logger)
	return c, nil
}

// Scene returns the client's local scene.
func (c *Client) Scene() *Scene {
	return c.scene
}

// Channel returns the live update channel.
func (c *Client) Channel() *Channel {
	return c.channel
}

// Connect opens the live update channel.
func (c *Client) Connect() error {
	return c.channel.Connect()
}

// Close tears down the live update channel.
func (c *Client) Close() {
	c.channel.Close()
}

// dispatch feeds one inbound event through the reconciler.
func (c *Client) dispatch(ev events.Event) {
	if err := c.reconciler.Apply(context.Background(), ev); err != nil {
		c.logger.Error("failed to apply event",
			zap.String("eventType", ev.EventType()),
			zap.Error(err),
		)
	}
}

// FullSync pushes the current scene to the server's sync endpoint,
// overwriting the server-side store.
func (c *Client) FullSync(ctx context.Context) error {
	return c.syncScene(ctx, c.scene.Elements())
}

// FetchElements retrieves the server's element set.
func (c *Client) FetchElements(ctx context.Context) ([]element.Element, error) {
	endpoint := c.baseURL.JoinPath("api", "elements")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		Success  bool              `json:"success"`
		Elements []element.Element `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode element list: %w", err)
	}
	return body.Elements, nil
}

// syncScene posts els to the full-sync endpoint.
func (c *Client) syncScene(ctx context.Context, els []element.Element) error {
	payload, err := json.Marshal(map[string]interface{}{
		"elements":  els,
		"timestamp": utils.NowRFC3339(),
	})
	if err != nil {
		return err
	}

	endpoint := c.baseURL.JoinPath("api", "elements", "sync")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync rejected with status %d", resp.StatusCode)
	}

	c.logger.Info("scene synced", zap.Int("count", len(els)))
	return nil
}
