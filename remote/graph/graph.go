// Package graph mirrors a OneDrive through the Microsoft Graph REST API.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/ghyeongl/drivemirror/sync"
)

const (
	DefaultBaseURL  = "https://graph.microsoft.com/v1.0"
	DefaultHashTTL  = 10 * time.Minute
	maxErrorPayload = 4 << 10
)

// Config holds client configuration.
type Config struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	TokenFile string        `mapstructure:"token_file" yaml:"token_file"`
	HashTTL   time.Duration `mapstructure:"hash_ttl" yaml:"hash_ttl"`

	// Token overrides TokenFile when set.
	Token      string       `mapstructure:"-" yaml:"-"`
	HTTPClient *http.Client `mapstructure:"-" yaml:"-"`
}

// Client implements sync.Provider for the signed-in user's drive.
type Client struct {
	baseURL    string
	token      string
	expires    time.Time // zero when the token is opaque
	httpClient *http.Client
	hashes     *ttlcache.Cache[string, string]
}

// New reads the access token and creates a client. A token that parses as a
// JWT whose exp claim has passed fails fast with sync.ErrUnauthorized.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HashTTL <= 0 {
		cfg.HashTTL = DefaultHashTTL
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		if cfg.TokenFile == "" {
			return nil, errors.New("graph: token file is required")
		}
		b, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("graph: read token: %w", err)
		}
		token = strings.TrimSpace(string(b))
	}
	if token == "" {
		return nil, fmt.Errorf("graph: empty token: %w", sync.ErrUnauthorized)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		expires: tokenExpiry(token),
		hashes: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](cfg.HashTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		httpClient: cfg.HTTPClient,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if err := c.checkToken(); err != nil {
		return nil, err
	}
	return c, nil
}

// tokenExpiry returns the exp claim of a JWT access token. Personal
// account tokens are opaque and yield the zero time.
func tokenExpiry(token string) time.Time {
	tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) checkToken() error {
	if !c.expires.IsZero() && time.Now().After(c.expires) {
		return fmt.Errorf("graph: token expired at %s: %w", c.expires.Format(time.RFC3339), sync.ErrUnauthorized)
	}
	return nil
}

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Size   *int64    `json:"size"`
	Folder *struct{} `json:"folder"`
	File   *struct {
		Hashes struct {
			SHA1 string `json:"sha1Hash"`
		} `json:"hashes"`
	} `json:"file"`
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// get issues an authenticated GET. The caller closes the body of a 2xx
// response; any other status is mapped to a provider error.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.checkToken(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		sync.AuditRemote(rawURL, 0, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("graph GET %s: %w: %v", rawURL, sync.ErrTransient, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	sync.AuditRemote(rawURL, resp.StatusCode, 0)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorPayload))
	return nil, statusError(rawURL, resp.StatusCode, body)
}

func statusError(rawURL string, status int, body []byte) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = sync.ErrUnauthorized
	case status == http.StatusNotFound:
		kind = sync.ErrNotFound
	default:
		// 429, 5xx and anything unexpected are retried next pass.
		kind = sync.ErrTransient
	}
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Code != "" {
		msg = payload.Error.Code + ": " + payload.Error.Message
	}
	return fmt.Errorf("graph GET %s: %d %s: %w", rawURL, status, msg, kind)
}

func (c *Client) itemURL(id string) string {
	return c.baseURL + "/me/drive/items/" + url.PathEscape(id)
}

// ListChildren lists a folder, following @odata.nextLink until drained.
// An empty id lists the drive root.
func (c *Client) ListChildren(ctx context.Context, id string) ([]sync.Node, error) {
	next := c.baseURL + "/me/drive/root/children"
	if id != "" {
		next = c.itemURL(id) + "/children"
	}

	var out []sync.Node
	for next != "" {
		resp, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var page childrenPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			sync.AuditRemote(next, resp.StatusCode, 0)
			return nil, fmt.Errorf("graph: decode children of %q: %w: %v", id, sync.ErrTransient, err)
		}
		sync.AuditRemote(next, resp.StatusCode, len(page.Value))

		for _, it := range page.Value {
			n := sync.Node{ID: it.ID, Name: it.Name, IsFolder: it.Folder != nil}
			if !n.IsFolder {
				n.Size = it.Size
				if it.File != nil && it.File.Hashes.SHA1 != "" {
					c.hashes.Set(it.ID, strings.ToLower(it.File.Hashes.SHA1), ttlcache.DefaultTTL)
				}
			}
			out = append(out, n)
		}
		next = page.NextLink
	}
	return out, nil
}

// GetContentHash returns the item's sha1Hash. Values seen in a recent
// listing are served from cache unless ctx asks for a fresh hash.
func (c *Client) GetContentHash(ctx context.Context, id string) (string, bool, error) {
	if !sync.FreshHashRequested(ctx) {
		if item := c.hashes.Get(id); item != nil {
			return item.Value(), true, nil
		}
	}

	u := c.itemURL(id)
	resp, err := c.get(ctx, u)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var it driveItem
	if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
		return "", false, fmt.Errorf("graph: decode item %s: %w: %v", id, sync.ErrTransient, err)
	}
	sync.AuditRemote(u, resp.StatusCode, 1)
	if it.File == nil || it.File.Hashes.SHA1 == "" {
		c.hashes.Delete(id)
		return "", false, nil
	}
	hash := strings.ToLower(it.File.Hashes.SHA1)
	c.hashes.Set(id, hash, ttlcache.DefaultTTL)
	return hash, true, nil
}

// GetContent streams the item's bytes. Graph answers with a redirect to a
// pre-authenticated download URL, which the http client follows.
func (c *Client) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	u := c.itemURL(id) + "/content"
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	sync.AuditRemote(u, resp.StatusCode, 1)
	return resp.Body, nil
}
