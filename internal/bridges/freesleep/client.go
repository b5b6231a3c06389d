package freesleep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// DefaultRequestTimeout bounds every call to the pod.
const DefaultRequestTimeout = 10 * time.Second

// maxErrorBody caps how much of an unstructured error body is kept.
const maxErrorBody = 256

// PodClient is the request/response surface of the pod's REST API.
// *Client implements it; tests substitute fakes.
type PodClient interface {
	GetStatus(ctx context.Context) (device.Status, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) error
	GetSettings(ctx context.Context) (device.Settings, error)
	UpdateSettings(ctx context.Context, update SettingsUpdate) error
	GetSchedules(ctx context.Context) (left, right map[string]json.RawMessage, err error)
	UpdateSchedules(ctx context.Context, update ScheduleUpdate) error
	GetBase(ctx context.Context) (device.Base, error)
	SetBasePosition(ctx context.Context, head, feet, feedRate int) error
	SetBasePreset(ctx context.Context, preset device.Preset) error
	GetVitalsSummary(ctx context.Context, side device.Side) (device.SideVitals, error)
	SnoozeAlarm(ctx context.Context, side device.Side) error
	DismissPrimeNotification(ctx context.Context) error
	GetVersion(ctx context.Context) (map[string]any, error)
}

// Client talks to one pod over its local REST API.
//
// It holds no pod state and never retries: every call is a single request
// bounded by the request timeout, and failures are classified as
// ErrUnreachable, *DeviceError or ErrProtocol.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a client for the pod at address.
//
// Parameters:
//   - address: host:port or URL of the pod; http:// is assumed
//   - timeout: per-request bound (DefaultRequestTimeout if zero)
//
// Returns:
//   - *Client: Ready to use; no connection is made until the first call
func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	baseURL := NormalizeAddress(address)

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, baseURL: baseURL}
}

// NormalizeAddress turns a configured address into a base URL.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return strings.TrimRight(address, "/")
}

// BaseURL returns the normalised pod URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetStatus reads GET /api/deviceStatus.
func (c *Client) GetStatus(ctx context.Context) (device.Status, error) {
	var p statusPayload
	if err := c.get(ctx, endpointDeviceStatus, nil, &p); err != nil {
		return device.Status{}, err
	}
	return p.toStatus()
}

// UpdateStatus writes POST /api/deviceStatus.
func (c *Client) UpdateStatus(ctx context.Context, update StatusUpdate) error {
	return c.post(ctx, endpointDeviceStatus, update)
}

// GetSettings reads GET /api/settings.
func (c *Client) GetSettings(ctx context.Context) (device.Settings, error) {
	var p settingsPayload
	if err := c.get(ctx, endpointSettings, nil, &p); err != nil {
		return device.Settings{}, err
	}
	return p.toSettings(), nil
}

// UpdateSettings writes POST /api/settings.
func (c *Client) UpdateSettings(ctx context.Context, update SettingsUpdate) error {
	return c.post(ctx, endpointSettings, update)
}

// GetSchedules reads GET /api/schedules and returns each side's day map.
func (c *Client) GetSchedules(ctx context.Context) (left, right map[string]json.RawMessage, err error) {
	var p schedulesPayload
	if err := c.get(ctx, endpointSchedules, nil, &p); err != nil {
		return nil, nil, err
	}
	return p.Left, p.Right, nil
}

// UpdateSchedules writes POST /api/schedules.
func (c *Client) UpdateSchedules(ctx context.Context, update ScheduleUpdate) error {
	return c.post(ctx, endpointSchedules, update)
}

// GetBase reads GET /api/base-control.
// Returns ErrNoBase when the pod reports no base angles.
func (c *Client) GetBase(ctx context.Context) (device.Base, error) {
	var p basePayload
	if err := c.get(ctx, endpointBaseControl, nil, &p); err != nil {
		return device.Base{}, err
	}
	return p.toBase()
}

// SetBasePosition writes POST /api/base-control.
func (c *Client) SetBasePosition(ctx context.Context, head, feet, feedRate int) error {
	return c.post(ctx, endpointBaseControl, basePositionRequest{Head: head, Feet: feet, FeedRate: feedRate})
}

// SetBasePreset writes POST /api/base-control/preset.
func (c *Client) SetBasePreset(ctx context.Context, preset device.Preset) error {
	return c.post(ctx, endpointBasePreset, basePresetRequest{Preset: preset})
}

// GetVitalsSummary reads GET /api/metrics/vitals/summary for one side.
func (c *Client) GetVitalsSummary(ctx context.Context, side device.Side) (device.SideVitals, error) {
	var p vitalsSummaryPayload
	if err := c.get(ctx, endpointVitalsSummary, map[string]string{"side": string(side)}, &p); err != nil {
		return device.SideVitals{}, err
	}
	return p.toSideVitals(), nil
}

// SnoozeAlarm writes POST /api/deviceStatus/snooze.
func (c *Client) SnoozeAlarm(ctx context.Context, side device.Side) error {
	return c.post(ctx, endpointSnooze, snoozeRequest{Side: side})
}

// DismissPrimeNotification writes POST /api/deviceStatus/dismissPrimeNotification.
func (c *Client) DismissPrimeNotification(ctx context.Context) error {
	return c.post(ctx, endpointDismissPrime, nil)
}

// GetVersion reads GET /api/version. The payload is passed through as-is.
func (c *Client) GetVersion(ctx context.Context) (map[string]any, error) {
	var v map[string]any
	if err := c.get(ctx, endpointVersion, nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// get performs a GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err := classify(http.MethodGet, path, resp, err); err != nil {
		return err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		return fmt.Errorf("%w: GET %s: empty body", ErrProtocol, path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrProtocol, path, err)
	}
	return nil
}

// post performs a POST with an optional JSON body. Any 2xx, including
// 204 No Content, is success; response bodies are ignored.
func (c *Client) post(ctx context.Context, path string, body any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Post(path)
	return classify(http.MethodPost, path, resp, err)
}

// classify turns a transport result into the client's error taxonomy.
func classify(method, path string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return &DeviceError{Status: resp.StatusCode(), Message: errorMessage(resp.Body())}
	}
	return nil
}

// errorMessage extracts the pod's explanation from an error body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}

// ValidateAddress checks that a pod answers a status read at address before
// the address is accepted into configuration.
func ValidateAddress(ctx context.Context, address string, timeout time.Duration) (device.Status, error) {
	if strings.TrimSpace(address) == "" {
		return device.Status{}, &ValidationError{Field: "address", Reason: "required"}
	}
	return NewClient(address, timeout).GetStatus(ctx)
}
