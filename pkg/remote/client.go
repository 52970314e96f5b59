package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

// Config describes how to reach an index server
type Config struct {
	URL            string
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	Timeout        time.Duration
}

// signed reports whether requests should carry an OAuth1 signature
func (c Config) signed() bool {
	return c.ConsumerKey != "" && c.AccessToken != ""
}

// Client talks to a remote index server. It satisfies duplicate.Index,
// duplicate.Hasher and duplicate.ArchiveProcessor.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the server at cfg.URL
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	httpClient := http.DefaultClient
	if cfg.signed() {
		config := oauth1.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
		}
		token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
		httpClient = config.Client(context.Background(), token)
	}

	return &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		http:    httpClient,
		timeout: cfg.Timeout,
	}, nil
}

// LookupExact implements duplicate.Index
func (c *Client) LookupExact(ctx context.Context, hash, excludePath string) ([]duplicate.HashRecord, error) {
	q := url.Values{}
	q.Set("hash", hash)
	q.Set("exclude", excludePath)

	var resp recordsResponse
	if err := c.do(ctx, http.MethodGet, pathExact, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// LookupWithinDistance implements duplicate.Index
func (c *Client) LookupWithinDistance(ctx context.Context, phash uint64, maxDistance int, excludePath string) ([]duplicate.HashRecord, error) {
	q := url.Values{}
	q.Set("phash", strconv.FormatUint(phash, 10))
	q.Set("distance", strconv.Itoa(maxDistance))
	q.Set("exclude", excludePath)

	var resp recordsResponse
	if err := c.do(ctx, http.MethodGet, pathNear, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// DeleteAllForPath implements duplicate.Index
func (c *Client) DeleteAllForPath(ctx context.Context, path string) error {
	q := url.Values{}
	q.Set("path", path)
	return c.do(ctx, http.MethodDelete, pathPaths, q, nil, nil)
}

// HashContent implements duplicate.Hasher
func (c *Client) HashContent(ctx context.Context, ownerPath, entryName string, content []byte) (duplicate.HashResult, error) {
	var res duplicate.HashResult
	req := hashRequest{OwnerPath: ownerPath, Entry: entryName, Content: content}
	err := c.do(ctx, http.MethodPost, pathHash, nil, req, &res)
	return res, err
}

// HashBytesExact implements duplicate.Hasher
func (c *Client) HashBytesExact(ctx context.Context, content []byte) (string, error) {
	var res exactResponse
	if err := c.do(ctx, http.MethodPost, pathHashExact, nil, hashRequest{Content: content}, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}

// ProcessArchive asks the server to hash and index an archive. The path must
// be readable by the server.
func (c *Client) ProcessArchive(ctx context.Context, archPath string) error {
	return c.do(ctx, http.MethodPost, pathArchives, nil, archiveRequest{Path: archPath}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
