package binance

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trady/internal/config"
	"trady/internal/core"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthSigned
)

// Client is the Binance USD-M futures adapter. It is safe for sequential use by one
// gateway; the underlying http.Client is reused across requests.
type Client struct {
	apiKey     string
	apiSecret  string
	privateKey ed25519.PrivateKey
	baseURL    string
	streamURL  string
	recvWindow time.Duration
	httpClient *http.Client
	now        func() time.Time
}

type Options struct {
	APIKey         string
	APISecret      string
	PrivateKey     ed25519.PrivateKey
	RestBaseURL    string
	StreamBaseURL  string
	RecvWindowMs   int64
	HTTPTimeoutSec int64
	HTTPClient     *http.Client
}

// NewClient builds a client from config. With private_key_path set, signed requests
// use Ed25519 instead of the HMAC secret.
func NewClient(cfg config.BinanceConfig) (*Client, error) {
	opts := Options{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RestBaseURL:    cfg.APIURL,
		StreamBaseURL:  cfg.StreamURL,
		RecvWindowMs:   cfg.RecvWindowMs,
		HTTPTimeoutSec: cfg.HTTPTimeoutSec,
	}
	if cfg.PrivateKeyPath != "" {
		key, err := LoadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		opts.PrivateKey = key
	}
	return NewClientWithOptions(opts), nil
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.RestBaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultAPIURL
	}
	streamURL := strings.TrimRight(opts.StreamBaseURL, "/")
	if streamURL == "" {
		streamURL = config.DefaultStreamURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		apiSecret:  strings.TrimSpace(opts.APISecret),
		privateKey: opts.PrivateKey,
		baseURL:    baseURL,
		streamURL:  streamURL,
		recvWindow: time.Duration(opts.RecvWindowMs) * time.Millisecond,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) requireCredentials() error {
	if c.apiKey == "" || (c.apiSecret == "" && c.privateKey == nil) {
		return core.NewConfigurationError("binance api_key with api_secret or private_key_path required for signed requests")
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, auth AuthType, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, params, auth)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if auth == AuthSigned {
		if err := c.requireCredentials(); err != nil {
			return nil, err
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", c.sign(params.Encode()))
	}
	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		body := params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(body))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth == AuthSigned {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) sign(payload string) string {
	if c.privateKey != nil {
		return signEd25519(c.privateKey, payload)
	}
	return signHMAC(c.apiSecret, payload)
}

func signHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
