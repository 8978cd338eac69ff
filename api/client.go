package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/pack"
	"graphmirror/proto"
)

// Client is the mirror-side view of a remote authoritative server. It
// implements asset.Store, so a mirror.Workspace wired to it synchronizes
// across the HTTP boundary transparently.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the given base URL (e.g. "http://host:7461").
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Head fetches the authoritative side's current root fingerprint and version.
func (c *Client) Head(ctx context.Context) (cas.Fingerprint, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/head", nil)
	if err != nil {
		return cas.Fingerprint{}, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return cas.Fingerprint{}, 0, fmt.Errorf("fetching head: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cas.Fingerprint{}, 0, fmt.Errorf("head: %s", apiError(resp))
	}

	var head proto.HeadResponse
	if err := json.NewDecoder(resp.Body).Decode(&head); err != nil {
		return cas.Fingerprint{}, 0, fmt.Errorf("decoding head: %w", err)
	}
	sum, err := cas.Parse(head.Checksum)
	if err != nil {
		return cas.Fingerprint{}, 0, fmt.Errorf("head checksum: %w", err)
	}
	return sum, head.Version, nil
}

// Resolve implements asset.Store over the HTTP boundary: one POST carrying
// the fingerprint batch, one zstd pack coming back.
func (c *Client) Resolve(ctx context.Context, sums []cas.Fingerprint) (map[cas.Fingerprint]*asset.Asset, error) {
	hexes := make([]string, len(sums))
	for i, sum := range sums {
		hexes[i] = sum.Hex()
	}
	body, err := json.Marshal(proto.ResolveRequest{Checksums: hexes})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/assets/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolving assets: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// The server never published one of the fingerprints: surface the
		// protocol violation under the sentinel the mirror checks for.
		return nil, fmt.Errorf("%s: %w", apiError(resp), asset.ErrNotFound)
	default:
		return nil, fmt.Errorf("resolve: %s", apiError(resp))
	}

	got, err := pack.Ingest(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingesting pack: %w", err)
	}
	return got, nil
}

// Watch streams primary-branch changes over a websocket, invoking fn for
// each event until ctx is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(proto.WatchEvent)) error {
	wsURL, err := url.Parse(c.base + "/v1/watch")
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing watch: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev proto.WatchEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading watch event: %w", err)
		}
		fn(ev)
	}
}

func apiError(resp *http.Response) string {
	var apiErr proto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return resp.Status
}
