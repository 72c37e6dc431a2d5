package haProxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrEntityNotFound = errors.New("entity not found")

// EntityState is one entity as returned by /api/states.
type EntityState struct {
	EntityId   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (s *EntityState) FriendlyName(fallback string) string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

// Available is false while Home Assistant cannot reach the device.
func (s *EntityState) Available() bool {
	return s.State != "unavailable" && s.State != "unknown"
}

// HaApiClient talks to the Home Assistant REST API with a long lived token.
type HaApiClient struct {
	Url    string
	token  string
	client http.Client
	logger *zap.SugaredLogger
}

func NewHaApiClient(url, token string, timeout time.Duration, logger *zap.SugaredLogger) *HaApiClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HaApiClient{
		Url:    strings.TrimRight(url, "/"),
		token:  token,
		client: http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HaApiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Url+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ha api: %w", err)
	}
	return resp, nil
}

// Ping checks that the API is reachable and the token accepted.
func (c *HaApiClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ha api %d", resp.StatusCode)
	}
	return nil
}

func (c *HaApiClient) GetState(ctx context.Context, entityId string) (*EntityState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+entityId, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", entityId, ErrEntityNotFound)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ha api %d: %s", resp.StatusCode, string(body))
	}

	state := &EntityState{}
	if err := json.NewDecoder(resp.Body).Decode(state); err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", entityId, err)
	}
	return state, nil
}

// CallService invokes domain.service, e.g. climate.set_temperature.
func (c *HaApiClient) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	c.logger.Infof("Calling service %s.%s with %v", domain, service, data)
	resp, err := c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("service %s.%s failed with %d: %s", domain, service, resp.StatusCode, string(body))
	}
	return nil
}

func (c *HaApiClient) Close() {
	c.client.CloseIdleConnections()
}
