// Package market talks to the upstream stock data API. It serves two
// audiences: interactive commands and the broadcast executor, which treats
// any error here as a content-fetch failure.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockcast/pkg/logx"
)

// Board identifies one of the image dashboards the upstream renders.
type Board string

const (
	BoardLimitUp   Board = "limit_up"
	BoardLimitDown Board = "limit_down"
)

// maxImageBytes caps a board image download. Telegram rejects photos over
// 10 MB anyway.
const maxImageBytes = 10 << 20

const maxTextBytes = 256 << 10

type Client struct {
	baseURL string
	http    *http.Client
	log     logx.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With(logx.String("component", "market")),
	}
}

// Indexes returns the market index overview as display-ready text.
func (c *Client) Indexes(ctx context.Context) (string, error) {
	return c.getText(ctx, "/api/indexes")
}

// Analyze returns the upstream analysis text for a single stock code.
func (c *Client) Analyze(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty stock code")
	}
	return c.getText(ctx, "/api/analyze?code="+url.QueryEscape(code))
}

// BoardImage returns the rendered PNG for a limit-up or limit-down board.
func (c *Client) BoardImage(ctx context.Context, board Board) ([]byte, error) {
	switch board {
	case BoardLimitUp, BoardLimitDown:
	default:
		return nil, fmt.Errorf("unknown board %q", board)
	}
	return c.getBytes(ctx, "/api/"+string(board)+".png", maxImageBytes)
}

// Select returns the stock-selection text for a canonical strategy key.
func (c *Client) Select(ctx context.Context, strategy string) (string, error) {
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return "", fmt.Errorf("empty strategy")
	}
	return c.getText(ctx, "/api/dyq_select/"+url.PathEscape(strategy))
}

func (c *Client) getText(ctx context.Context, path string) (string, error) {
	b, err := c.getBytes(ctx, path, maxTextBytes)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("empty response from %s", path)
	}
	return text, nil
}

func (c *Client) getBytes(ctx context.Context, path string, limit int64) ([]byte, error) {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("fetch %s: response over %d bytes", path, limit)
	}
	c.log.Debug("market fetch",
		logx.String("path", path),
		logx.Int("bytes", len(b)),
		logx.Duration("took", time.Since(start)))
	return b, nil
}
