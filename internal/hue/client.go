package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every HTTP request to the bridge.
const DefaultTimeout = 10 * time.Second

// Client talks to the bridge's v1 JSON API over plain HTTP.
// It holds no credential: every authenticated call takes the username explicitly.
type Client struct {
	host       string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a client for the bridge at address, which is an IPv4 or
// IPv6 address with an optional port ("192.168.1.2", "[fe80::1]:8080").
func NewClient(address string, opts ...Option) (*Client, error) {
	host, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	c := &Client{
		host:       host,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParseAddress validates a bridge address and returns it in URL host form.
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if ap, err := netip.ParseAddrPort(address); err == nil {
		return hostPort(ap.Addr(), strconv.Itoa(int(ap.Port()))), nil
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", fmt.Errorf("%q: %w: %w", address, ErrAddressParse, err)
	}
	return hostPort(addr, ""), nil
}

func hostPort(addr netip.Addr, port string) string {
	host := addr.String()
	if addr.Is6() {
		host = "[" + strings.Replace(host, "%", "%25", 1) + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// Address returns the bridge host as used in request URLs
func (c *Client) Address() string {
	return c.host
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s/api%s", c.host, path)
}

// request performs one HTTP exchange and returns the response body.
// Connection failures and non-2xx statuses are transport errors.
func (c *Client) request(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, transportError(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	log.Debug().
		Str("op", op).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Bridge request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, transportError(op, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	return data, nil
}

// Pair asks the bridge for a new user. It succeeds only while the link button
// is armed; otherwise the returned error matches ErrLinkButtonNotPressed.
func (c *Client) Pair(ctx context.Context, deviceType string) (Credential, error) {
	const op = "pair"

	body, err := c.request(ctx, op, http.MethodPost, "", pairRequest{
		DeviceType:        deviceType,
		GenerateClientKey: true,
	})
	if err != nil {
		return Credential{}, err
	}
	return decodePairResponse(body)
}

func decodePairResponse(body []byte) (Credential, error) {
	const op = "pair"

	var results []result
	if err := json.Unmarshal(body, &results); err != nil {
		return Credential{}, decodeError(op, err)
	}
	if len(results) != 1 {
		return Credential{}, decodeErrorf(op, "expected exactly one result, got %d", len(results))
	}

	r := results[0]
	if r.Error != nil {
		return Credential{}, r.Error
	}

	var cred Credential
	if err := json.Unmarshal(r.Success, &cred); err != nil {
		return Credential{}, decodeError(op, err)
	}
	if cred.Username == "" {
		return Credential{}, decodeErrorf(op, "success record without username")
	}
	return cred, nil
}

// Lights returns all lights known to the bridge, ordered by id.
func (c *Client) Lights(ctx context.Context, username string) ([]Light, error) {
	const op = "list lights"

	body, err := c.request(ctx, op, http.MethodGet, "/"+username+"/lights", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]Light
	if err := decodeResource(op, body, &raw); err != nil {
		return nil, err
	}

	lights := make([]Light, 0, len(raw))
	for _, id := range sortedKeys(raw) {
		light := raw[id]
		light.ID = id
		lights = append(lights, light)
	}
	return lights, nil
}

// Groups returns all groups known to the bridge, ordered by id.
func (c *Client) Groups(ctx context.Context, username string) ([]Group, error) {
	const op = "list groups"

	body, err := c.request(ctx, op, http.MethodGet, "/"+username+"/groups", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]Group
	if err := decodeResource(op, body, &raw); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(raw))
	for _, id := range sortedKeys(raw) {
		group := raw[id]
		group.ID = id
		groups = append(groups, group)
	}
	return groups, nil
}

// SetLightState sends a sparse state change to one light.
func (c *Client) SetLightState(ctx context.Context, username, lightID string, change StateChange) (StateResult, error) {
	return c.setState(ctx, "set light state", fmt.Sprintf("/%s/lights/%s/state", username, lightID), change)
}

// SetGroupState sends a sparse state change to every light in a group.
func (c *Client) SetGroupState(ctx context.Context, username, groupID string, change StateChange) (StateResult, error) {
	return c.setState(ctx, "set group state", fmt.Sprintf("/%s/groups/%s/action", username, groupID), change)
}

func (c *Client) setState(ctx context.Context, op, path string, change StateChange) (StateResult, error) {
	body, err := c.request(ctx, op, http.MethodPut, path, change)
	if err != nil {
		return StateResult{Raw: body}, err
	}

	res := StateResult{Raw: body, Applied: make(map[string]any)}

	var results []result
	if err := json.Unmarshal(body, &results); err != nil {
		return res, decodeError(op, err)
	}
	for _, r := range results {
		if r.Error != nil {
			res.Errors = append(res.Errors, *r.Error)
			continue
		}
		var applied map[string]any
		if err := json.Unmarshal(r.Success, &applied); err != nil {
			return res, decodeError(op, err)
		}
		for k, v := range applied {
			res.Applied[k] = v
		}
	}

	if len(res.Errors) > 0 {
		errs := make([]error, 0, len(res.Errors))
		for i := range res.Errors {
			errs = append(errs, &res.Errors[i])
		}
		return res, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return res, nil
}

// decodeResource decodes an id-keyed object. The bridge answers with an error
// array instead (e.g. for an unknown username), which is returned as *APIError.
func decodeResource(op string, body []byte, v any) error {
	if isErrorArray(body) {
		var results []result
		if err := json.Unmarshal(body, &results); err != nil {
			return decodeError(op, err)
		}
		for _, r := range results {
			if r.Error != nil {
				return fmt.Errorf("%s: %w", op, r.Error)
			}
		}
		return decodeErrorf(op, "expected an object, got an array")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return decodeError(op, err)
	}
	return nil
}

// sortedKeys orders ids numerically when both are integers, lexically otherwise.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessID(keys[i], keys[j])
	})
	return keys
}

func lessID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
