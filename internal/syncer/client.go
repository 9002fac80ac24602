// Package syncer uploads locally stored records to the LeafGuard sync API and
// coordinates sync passes over the pending set.
package syncer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/leafguard/leafguard-go/internal/conf"
	"github.com/leafguard/leafguard-go/internal/errors"
	"github.com/leafguard/leafguard-go/internal/logging"
	"github.com/leafguard/leafguard-go/internal/store"
)

// Package-level logger specific to the syncer service. It starts on the
// global logger and switches to a rotating file logger when the first
// client is built from settings with file logging enabled.
var (
	serviceLogger = logging.ForService("syncer")
	closeLogger   = func() error { return nil }
	loggerOnce    sync.Once
)

// initServiceLogger configures the service logger from the sync log
// settings. The first client wins; later clients reuse the same logger.
func initServiceLogger(cfg *conf.LogConfig) {
	loggerOnce.Do(func() {
		if logger, closer := buildServiceLogger(cfg); logger != nil {
			serviceLogger = logger
			closeLogger = closer
		}
	})
}

// buildServiceLogger returns a rotating file logger per the settings, or
// nil when file logging is disabled or cannot be set up.
func buildServiceLogger(cfg *conf.LogConfig) (*slog.Logger, func() error) {
	if !cfg.Enabled {
		return nil, nil
	}
	logFilePath := cfg.Path
	if logFilePath == "" {
		logFilePath = filepath.Join("logs", "sync.log")
	}

	fileLogger, closer, err := logging.NewFileLogger(logFilePath, "syncer", slog.LevelDebug, rotationFromConfig(cfg))
	if err != nil {
		log.Printf("Failed to initialize syncer file logger at %s: %v. Using global logger.", logFilePath, err)
		return nil, nil
	}
	return fileLogger, closer
}

// rotationFromConfig maps log settings onto rotation parameters, falling
// back to the defaults for unset fields.
func rotationFromConfig(cfg *conf.LogConfig) logging.FileRotation {
	rotation := logging.DefaultFileRotation()
	if cfg.MaxSizeMB > 0 {
		rotation.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		rotation.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		rotation.MaxAgeDays = cfg.MaxAgeDays
	}
	return rotation
}

// UpsertClient pushes one pending entity to the remote. Upsert is idempotent:
// repeated pushes of the same entity id must not create duplicates remotely.
type UpsertClient interface {
	Upsert(ctx context.Context, entity *store.PendingEntity) error
	Close()
}

// upsertRequest is the JSON body of one upsert push.
type upsertRequest struct {
	EntityType string          `json:"entityType"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
}

// HTTPClient implements UpsertClient against the LeafGuard sync HTTP API.
type HTTPClient struct {
	Settings     *conf.Settings
	StationToken string
	HTTPClient   *http.Client

	endpoint string
}

// NewClient creates a new sync API client from settings. The station token is
// expected to be validated before this function is called.
func NewClient(settings *conf.Settings) (*HTTPClient, error) {
	initServiceLogger(&settings.Sync.Log)
	serviceLogger.Info("Creating new sync API client", "endpoint", settings.Sync.Endpoint)
	if settings.Sync.Endpoint == "" {
		return nil, errors.Newf("sync endpoint is not configured").
			Component("syncer").
			Category(errors.CategoryConfiguration).
			Build()
	}

	client := &HTTPClient{
		Settings:     settings,
		StationToken: settings.Sync.StationToken,
		endpoint:     settings.Sync.Endpoint,
		// Per-attempt deadlines come from the caller's context; the client
		// timeout is only a safety net for callers without one.
		HTTPClient: &http.Client{Timeout: 45 * time.Second},
	}
	return client, nil
}

// Upsert posts one entity to the remote. A nil return means the remote
// acknowledged durable receipt. Rejections that retrying cannot fix are
// reported as errors matching errors.ErrRemoteRejected; everything else is
// transient.
func (c *HTTPClient) Upsert(ctx context.Context, entity *store.PendingEntity) error {
	if entity == nil || entity.ID == "" || entity.EntityType == "" {
		return errors.Newf("invalid input: entity type and id must be non-empty").
			Component("syncer").
			Category(errors.CategoryValidation).
			Build()
	}

	body, err := json.Marshal(upsertRequest{
		EntityType: entity.EntityType,
		ID:         entity.ID,
		Payload:    json.RawMessage(entity.Payload),
	})
	if err != nil {
		serviceLogger.Error("Failed to marshal upsert payload", "entity_type", entity.EntityType, "id", entity.ID, "error", err)
		return fmt.Errorf("failed to marshal upsert payload: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(body); err != nil {
		return fmt.Errorf("failed to compress upsert payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize compressed payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.upsertURL(), &compressed)
	if err != nil {
		return fmt.Errorf("failed to build upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("User-Agent", "LeafGuard")
	if c.StationToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.StationToken)
	}

	serviceLogger.Debug("Pushing entity", "entity_type", entity.EntityType, "id", entity.ID, "bytes", compressed.Len())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return handleNetworkError(err)
	}
	if resp == nil {
		serviceLogger.Error("Upsert received nil response", "entity_type", entity.EntityType, "id", entity.ID)
		return fmt.Errorf("received nil response")
	}
	defer resp.Body.Close()

	return c.classifyResponse(resp, entity)
}

// classifyResponse maps the HTTP status to acknowledged, permanently
// rejected, or transient.
func (c *HTTPClient) classifyResponse(resp *http.Response, entity *store.PendingEntity) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		serviceLogger.Info("Entity acknowledged", "entity_type", entity.EntityType, "id", entity.ID, "status_code", resp.StatusCode)
		return nil
	}

	responseBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		responseBody = []byte(fmt.Sprintf("<unreadable: %v>", readErr))
	}

	// 408 and 429 are retryable despite being 4xx.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		serviceLogger.Warn("Entity permanently rejected",
			"entity_type", entity.EntityType, "id", entity.ID,
			"status_code", resp.StatusCode, "response_body", string(responseBody))
		return errors.New(fmt.Errorf("%w: status %d: %s", errors.ErrRemoteRejected, resp.StatusCode, string(responseBody))).
			Component("syncer").
			Category(errors.CategoryRemoteReject).
			EntityContext(entity.EntityType, entity.ID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	serviceLogger.Warn("Upsert failed with retryable status",
		"entity_type", entity.EntityType, "id", entity.ID,
		"status_code", resp.StatusCode, "response_body", string(responseBody))
	return fmt.Errorf("upsert failed, status code: %d, response: %s", resp.StatusCode, string(responseBody))
}

func (c *HTTPClient) upsertURL() string {
	return c.endpoint + "/entities"
}

// handleNetworkError returns a more specific error message for common
// transport failures. All of these are transient.
func handleNetworkError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		serviceLogger.Warn("Network request timed out", "error", err)
		return fmt.Errorf("request timed out: %w", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) {
			serviceLogger.Error("DNS resolution failed", "url", urlErr.URL, "error", err)
			return fmt.Errorf("DNS resolution failed: %w", err)
		}
	}
	serviceLogger.Error("Network error occurred", "error", err)
	return fmt.Errorf("network error: %w", err)
}

// Close flushes the service log and releases idle connections.
func (c *HTTPClient) Close() {
	if c.HTTPClient != nil {
		type transporter interface {
			CloseIdleConnections()
		}
		if t, ok := c.HTTPClient.Transport.(transporter); ok {
			t.CloseIdleConnections()
		} else {
			http.DefaultTransport.(*http.Transport).CloseIdleConnections()
		}
	}
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Failed to close syncer service logger: %v", err)
		}
	}
}
