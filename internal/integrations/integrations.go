// Package integrations connects third-party workspaces (Google, Microsoft 365,
// Zoom, Slack, Jira, Workday) and scans their content for compliance
// violations.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderZoom      Provider = "zoom"
	ProviderSlack     Provider = "slack"
	ProviderJira      Provider = "jira"
	ProviderWorkday   Provider = "workday"
)

// Providers lists every supported integration.
var Providers = []Provider{ProviderGoogle, ProviderMicrosoft, ProviderZoom, ProviderSlack, ProviderJira, ProviderWorkday}

func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusCompleted    Status = "completed"
	StatusFallback     Status = "fallback"
	StatusError        Status = "error"
)

// Result is the uniform envelope every connector operation returns.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  Status `json:"status,omitempty"`
}

// Credentials carries what a connector needs to go live. With only Account set
// the connector runs against synthetic content.
type Credentials struct {
	Account         string `json:"account"`
	CredentialsFile string `json:"credentialsFile,omitempty"`
	TenantID        string `json:"tenantId,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

type ConnectionInfo struct {
	Provider    Provider  `json:"provider"`
	Account     string    `json:"account"`
	Live        bool      `json:"live"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type ScanData struct {
	Provider        Provider                  `json:"provider"`
	ItemsScanned    int                       `json:"itemsScanned"`
	ViolationsFound int                       `json:"violationsFound"`
	Violations      []models.ComplianceReport `json:"violations"`
	ScannedAt       time.Time                 `json:"scannedAt"`
}

// Connector is one integration's lifecycle.
type Connector interface {
	Provider() Provider
	Connect(ctx context.Context, creds Credentials) Result
	Disconnect(ctx context.Context) Result
	Scan(ctx context.Context, userID string) Result
}

var (
	ErrNotConnected        = errors.New("integration is not connected")
	ErrMissingAccount      = errors.New("an account is required")
	ErrUnknownProvider     = errors.New("unknown integration provider")
	ErrSimulatedFailure    = errors.New("simulated upstream failure")
	ErrInvalidConfig       = errors.New("invalid integration config")
	errIncompleteMicrosoft = errors.New("tenant id, client id and client secret must be set together")
)

// SourceFactory builds the content source for a connection.
type SourceFactory func(ctx context.Context, provider Provider, creds Credentials) (ItemSource, bool, error)

// ScanHook observes completed scans.
type ScanHook func(ctx context.Context, userID string, data ScanData, status Status)

type connector struct {
	provider  Provider
	sources   SourceFactory
	generator ViolationGenerator
	fallback  ItemSource
	clock     clockwork.Clock
	logger    *slog.Logger
	hook      ScanHook
	scanLimit int

	// attach and detach keep the owning registry in step with the
	// connection state.
	attach func(*connector)
	detach func(*connector)

	mu     sync.Mutex
	source ItemSource
	info   *ConnectionInfo
}

func (c *connector) Provider() Provider {
	return c.provider
}

func (c *connector) Connect(ctx context.Context, creds Credentials) Result {
	if creds.Account == "" {
		return Result{Error: ErrMissingAccount.Error(), Status: StatusError}
	}

	source, live, err := c.sources(ctx, c.provider, creds)
	if err != nil {
		c.logger.Warn("integration connect failed", "provider", c.provider, "error", err)
		return Result{Error: err.Error(), Status: StatusError}
	}

	info := &ConnectionInfo{
		Provider:    c.provider,
		Account:     creds.Account,
		Live:        live,
		ConnectedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.source = source
	c.info = info
	c.mu.Unlock()

	if c.attach != nil {
		c.attach(c)
	}

	c.logger.Info("integration connected", "provider", c.provider, "account", creds.Account, "live", live)
	return Result{Success: true, Data: *info, Status: StatusConnected}
}

func (c *connector) Disconnect(_ context.Context) Result {
	c.mu.Lock()
	connected := c.info != nil
	c.source = nil
	c.info = nil
	c.mu.Unlock()

	if c.detach != nil {
		c.detach(c)
	}
	if !connected {
		return Result{Error: ErrNotConnected.Error(), Status: StatusDisconnected}
	}
	return Result{Success: true, Status: StatusDisconnected}
}

// Scan lists the connected workspace and synthesises violations. Upstream
// failures degrade to a fallback result set rather than an error.
func (c *connector) Scan(ctx context.Context, userID string) Result {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()

	if source == nil {
		return Result{Error: ErrNotConnected.Error(), Status: StatusDisconnected}
	}

	status := StatusCompleted
	var scanErr error
	items, err := source.ListItems(ctx, c.scanLimit)
	if err != nil {
		c.logger.Warn("integration scan failed, using fallback results", "provider", c.provider, "error", err)
		scanErr = err
		status = StatusFallback
		items, err = c.fallback.ListItems(ctx, c.scanLimit)
		if err != nil {
			metrics.IntegrationScans.WithLabelValues(string(c.provider), string(StatusError)).Inc()
			return Result{Error: fmt.Sprintf("scan failed: %v", err), Status: StatusError}
		}
	}

	now := c.clock.Now()
	violations := c.generator.Generate(c.provider, userID, items, now)
	data := ScanData{
		Provider:        c.provider,
		ItemsScanned:    len(items),
		ViolationsFound: len(violations),
		Violations:      violations,
		ScannedAt:       now,
	}

	metrics.IntegrationScans.WithLabelValues(string(c.provider), string(status)).Inc()
	metrics.ViolationsDetected.WithLabelValues(string(c.provider)).Add(float64(len(violations)))

	if c.hook != nil {
		c.hook(ctx, userID, data, status)
	}

	res := Result{Success: true, Data: data, Status: status}
	if scanErr != nil {
		res.Error = scanErr.Error()
	}
	return res
}

func (c *connector) connection() (ConnectionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return ConnectionInfo{}, false
	}
	return *c.info, true
}
