// Package elastic is a thin Elasticsearch API client covering the read
// endpoints the monitor polls and the handful of maintenance commands it
// can issue. All failures leave this package as typed
// *clustererrors.ClusterError values.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/models"
	"github.com/espulse/espulse/pkg/tlsutil"
)

const (
	defaultTimeout = 30 * time.Second

	// ProbeTimeout bounds the cheap health probe used for connection
	// checks and failure classification.
	ProbeTimeout = 3 * time.Second
)

// Client is an Elasticsearch API client bound to one cluster endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig

	// retryDelay is the pause before the single transport-level retry;
	// shortened in tests.
	retryDelay time.Duration
}

// ClientConfig holds configuration for the Elasticsearch client.
type ClientConfig struct {
	Host      string
	Username  string
	Password  string
	VerifySSL bool
	Timeout   time.Duration
}

// NewClient creates a client for the given cluster endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("elasticsearch host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
		log.Debug().Str("host", host).Msg("No protocol specified in Elasticsearch host, defaulting to HTTP")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(host, "/"),
		httpClient: tlsutil.NewHTTPClient(cfg.VerifySSL, timeout),
		config:     cfg,
		retryDelay: 500 * time.Millisecond,
	}, nil
}

// BaseURL returns the normalized cluster endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping probes the cluster root with a short deadline. It is the cheap
// health check behind connection verification, degraded-mode recovery and
// timeout classification, and deliberately skips the transport retry.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return clustererrors.New(clustererrors.ErrorTypeConfig, "ping", c.baseURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransport("ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return clustererrors.New(clustererrors.ErrorTypeAPI, "ping", c.baseURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	return nil
}

// CatAllocation returns per-node shard and disk allocation.
func (c *Client) CatAllocation(ctx context.Context) ([]models.AllocationRow, error) {
	var rows []models.AllocationRow
	if err := c.getJSON(ctx, "cat_allocation", "/_cat/allocation?format=json&bytes=b", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CatRecovery returns in-flight shard recoveries.
func (c *Client) CatRecovery(ctx context.Context) ([]models.RecoveryRow, error) {
	var rows []models.RecoveryRow
	if err := c.getJSON(ctx, "cat_recovery", "/_cat/recovery?format=json&active_only=true", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ClusterHealth returns the cluster health document.
func (c *Client) ClusterHealth(ctx context.Context) (models.ClusterHealth, error) {
	var health models.ClusterHealth
	if err := c.getJSON(ctx, "cluster_health", "/_cluster/health", &health); err != nil {
		return models.ClusterHealth{}, err
	}
	return health, nil
}

// catNodeRow mirrors the _cat/nodes column names requested below.
type catNodeRow struct {
	Roles   string `json:"node.role"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Master  string `json:"master"`
}

// CatNodes returns the node list with the columns the upgrade planner
// needs.
func (c *Client) CatNodes(ctx context.Context) ([]models.NodeRecord, error) {
	var rows []catNodeRow
	path := "/_cat/nodes?format=json&h=node.role,name,ip,version,uptime,master"
	if err := c.getJSON(ctx, "cat_nodes", path, &rows); err != nil {
		return nil, err
	}

	nodes := make([]models.NodeRecord, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, models.NodeRecord{
			Roles:   row.Roles,
			Name:    row.Name,
			IP:      row.IP,
			Version: row.Version,
			Uptime:  row.Uptime,
			Master:  row.Master,
		})
	}
	return nodes, nil
}

// ClusterSettings returns persistent and transient cluster settings.
func (c *Client) ClusterSettings(ctx context.Context) (models.ClusterSettings, error) {
	var settings models.ClusterSettings
	if err := c.getJSON(ctx, "cluster_settings", "/_cluster/settings?flat_settings=true", &settings); err != nil {
		return models.ClusterSettings{}, err
	}
	return settings, nil
}

// CatHealth returns the current _cat/health row, the source of the health
// history timeline.
func (c *Client) CatHealth(ctx context.Context) (models.HealthHistoryRow, error) {
	var rows []models.HealthHistoryRow
	if err := c.getJSON(ctx, "cat_health", "/_cat/health?format=json", &rows); err != nil {
		return models.HealthHistoryRow{}, err
	}
	if len(rows) == 0 {
		return models.HealthHistoryRow{}, clustererrors.New(clustererrors.ErrorTypeParse,
			"cat_health", c.baseURL, fmt.Errorf("empty response"))
	}
	return rows[0], nil
}

// Flush asks the cluster to flush all indices.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.do(ctx, "flush", http.MethodPost, "/_flush", nil)
	return err
}

// SetShardAllocation enables or disables shard allocation cluster-wide.
func (c *Client) SetShardAllocation(ctx context.Context, enabled bool) error {
	return c.putTransientSetting(ctx, "set_shard_allocation",
		"cluster.routing.allocation.enable", enableValue(enabled))
}

// SetShardRebalance enables or disables shard rebalancing cluster-wide.
func (c *Client) SetShardRebalance(ctx context.Context, enabled bool) error {
	return c.putTransientSetting(ctx, "set_shard_rebalance",
		"cluster.routing.rebalance.enable", enableValue(enabled))
}

// SetRecoveryMaxBytesPerSec updates the recovery throttling setting, e.g.
// "500mb". An empty value resets it to the cluster default.
func (c *Client) SetRecoveryMaxBytesPerSec(ctx context.Context, value string) error {
	var v any
	if value != "" {
		v = value
	}
	return c.putTransientSetting(ctx, "set_recovery_throttle",
		"indices.recovery.max_bytes_per_sec", v)
}

func enableValue(enabled bool) any {
	if enabled {
		return "all"
	}
	return "none"
}

func (c *Client) putTransientSetting(ctx context.Context, op, key string, value any) error {
	body := map[string]any{
		"transient": map[string]any{key: value},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return clustererrors.New(clustererrors.ErrorTypeConfig, op, c.baseURL, err)
	}
	_, err = c.do(ctx, op, http.MethodPut, "/_cluster/settings", payload)
	return err
}

// getJSON performs a GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return clustererrors.New(clustererrors.ErrorTypeParse, op, c.baseURL, err)
	}
	return nil
}

// do performs one API request with a single delayed retry. The retry is
// transport policy only: callers always see the final, classified error.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	body, err := c.doOnce(ctx, op, method, path, payload)
	if err == nil {
		return body, nil
	}

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return nil, c.classifyTransport(op, ctx.Err())
	}

	log.Debug().Str("op", op).Str("endpoint", c.baseURL).Err(err).Msg("Retrying failed request")
	return c.doOnce(ctx, op, method, path, payload)
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return nil, clustererrors.New(clustererrors.ErrorTypeConfig, op, c.baseURL, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, clustererrors.New(clustererrors.ErrorTypeAPI, op, c.baseURL,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithStatusCode(resp.StatusCode)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	// Credentials ride along only when both halves are configured.
	if c.config.Username != "" && c.config.Password != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// classifyTransport tags a transport failure: deadline overruns are
// timeouts (a follow-up probe decides whether the cluster is down);
// everything else the transport refuses to deliver counts as the cluster
// being unreachable.
func (c *Client) classifyTransport(op string, err error) *clustererrors.ClusterError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) ||
		(stderrors.As(err, &netErr) && netErr.Timeout()) {
		return clustererrors.New(clustererrors.ErrorTypeTimeout, op, c.baseURL, err)
	}
	return clustererrors.New(clustererrors.ErrorTypeConnectivity, op, c.baseURL, err)
}
