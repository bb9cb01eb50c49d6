// Package vpn drives the platform VPN helper on mobile hosts, where the
// proxy core runs inside the OS VPN service instead of as a child process.
package vpn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrHelper wraps every failure reported by, or talking to, the helper.
	ErrHelper = errors.New("vpn helper")
	// ErrNeedPermission means the user has not yet granted VPN permission.
	ErrNeedPermission = errors.New("vpn permission required")
)

// CodeNeedPermission is the helper's rejection code for a missing grant.
const CodeNeedPermission = "NEED_PERMISSION"

// Helper controls the OS VPN service.
type Helper interface {
	// StartVPN hands the full core configuration to the VPN service.
	StartVPN(ctx context.Context, config string) error
	StopVPN(ctx context.Context) error
	// Ping echoes value back; it doubles as a liveness probe.
	Ping(ctx context.Context, value string) (string, error)
}

type startVPNRequest struct {
	Config string `json:"config"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type pingMessage struct {
	Value string `json:"value"`
}

type helperError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HTTPHelper talks JSON to a helper daemon.
type HTTPHelper struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPHelperConfig configures NewHTTPHelper.
type HTTPHelperConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewHTTPHelper(cfg HTTPHelperConfig) *HTTPHelper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPHelper{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

func (h *HTTPHelper) StartVPN(ctx context.Context, config string) error {
	var resp statusResponse
	if err := h.post(ctx, "/start_vpn", startVPNRequest{Config: config}, &resp); err != nil {
		return err
	}
	h.logger.Debug("vpn start requested", "status", resp.Status)
	return nil
}

func (h *HTTPHelper) StopVPN(ctx context.Context) error {
	var resp statusResponse
	if err := h.post(ctx, "/stop_vpn", nil, &resp); err != nil {
		return err
	}
	h.logger.Debug("vpn stop requested", "status", resp.Status)
	return nil
}

func (h *HTTPHelper) Ping(ctx context.Context, value string) (string, error) {
	var resp pingMessage
	if err := h.post(ctx, "/ping", pingMessage{Value: value}, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (h *HTTPHelper) post(ctx context.Context, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %w", ErrHelper, err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrHelper, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHelper, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return h.errorFrom(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", ErrHelper, path, err)
	}
	return nil
}

func (h *HTTPHelper) errorFrom(path string, resp *http.Response) error {
	var he helperError
	if err := json.NewDecoder(resp.Body).Decode(&he); err != nil || he.Error == "" {
		return fmt.Errorf("%w: %s: HTTP %d", ErrHelper, path, resp.StatusCode)
	}
	h.logger.Warn("vpn helper rejected request", "path", path, "code", he.Error, "message", he.Message)
	if he.Error == CodeNeedPermission {
		return fmt.Errorf("%w: %w", ErrHelper, ErrNeedPermission)
	}
	if he.Message != "" {
		return fmt.Errorf("%w: %s: %s", ErrHelper, he.Error, he.Message)
	}
	return fmt.Errorf("%w: %s", ErrHelper, he.Error)
}
