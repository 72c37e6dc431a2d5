package kasaClient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaProtocol"
)

type Credentials = kasaProtocol.Credentials

// Querier is the request surface of a SMART protocol connection.
type Querier interface {
	Query(ctx context.Context, method string, params any, result any) error
	QueryChild(ctx context.Context, deviceId, method string, params any, result any) error
	Close() error
}

// Hub is a connected KH100 (or compatible) hub and its children.
type Hub struct {
	Host     string
	protocol Querier
	logger   *zap.SugaredLogger

	info     map[string]any
	children []*Child
}

type config struct {
	timeout time.Duration
	logger  *zap.SugaredLogger
}

type Option func(*config)

// WithTimeout sets the HTTP timeout of each request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Discover connects to the hub at host and reads its device info.
func Discover(ctx context.Context, host string, creds *Credentials, options ...Option) (*Hub, error) {
	cfg := &config{logger: zap.NewNop().Sugar()}
	for _, opt := range options {
		opt(cfg)
	}

	cfg.logger.Infof("Connecting to hub at %s", host)
	transport := kasaProtocol.NewKlapTransport(host, creds, cfg.timeout, cfg.logger)
	protocol, err := kasaProtocol.NewSmartProtocol(transport, cfg.logger)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("discover %s: %w", host, err)
	}
	hub := NewHub(host, protocol, cfg.logger)

	if err := hub.updateInfo(ctx); err != nil {
		hub.Close()
		return nil, fmt.Errorf("discover %s: %w", host, err)
	}
	cfg.logger.Infof("Connected to %s %s (%s)", hub.Model(), hub.Alias(), hub.DeviceId())
	return hub, nil
}

// NewHub wraps an existing protocol connection.
func NewHub(host string, protocol Querier, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		Host:     host,
		protocol: protocol,
		logger:   logger,
		info:     map[string]any{},
	}
}

func (h *Hub) updateInfo(ctx context.Context) error {
	info := map[string]any{}
	if err := h.protocol.Query(ctx, "get_device_info", nil, &info); err != nil {
		return err
	}
	h.info = info
	return nil
}

// Update refreshes the hub info and the list of children. Children that are
// still present keep their identity; new ones get their component list read.
func (h *Hub) Update(ctx context.Context) error {
	if err := h.updateInfo(ctx); err != nil {
		return err
	}

	infos, err := h.childDeviceList(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]*Child, len(h.children))
	for _, c := range h.children {
		known[c.DeviceId()] = c
	}

	children := make([]*Child, 0, len(infos))
	missingComponents := false
	for _, info := range infos {
		id, _ := info["device_id"].(string)
		if c, ok := known[id]; ok && id != "" {
			c.setInfo(info)
			children = append(children, c)
			continue
		}
		c := newChild(h, info)
		children = append(children, c)
		missingComponents = true
	}
	h.children = children

	if missingComponents {
		if err := h.updateComponents(ctx); err != nil {
			h.logger.Warnf("Reading child components failed: %s", err)
		}
	}
	h.logger.Debugf("Hub %s has %d children", h.Host, len(h.children))
	return nil
}

func (h *Hub) childDeviceList(ctx context.Context) ([]map[string]any, error) {
	infos := []map[string]any{}
	for {
		page := kasaProtocol.ChildDeviceListResult{}
		err := h.protocol.Query(ctx, "get_child_device_list", kasaProtocol.ChildDeviceListParams{StartIndex: len(infos)}, &page)
		if err != nil {
			return nil, err
		}
		infos = append(infos, page.ChildDeviceList...)
		if len(page.ChildDeviceList) == 0 || len(infos) >= page.Sum {
			return infos, nil
		}
	}
}

func (h *Hub) updateComponents(ctx context.Context) error {
	byId := make(map[string]*Child, len(h.children))
	for _, c := range h.children {
		byId[c.DeviceId()] = c
	}

	read := 0
	for {
		page := kasaProtocol.ChildComponentListResult{}
		err := h.protocol.Query(ctx, "get_child_device_component_list", kasaProtocol.ChildDeviceListParams{StartIndex: read}, &page)
		if err != nil {
			return err
		}
		for _, cc := range page.ChildComponentList {
			if c, ok := byId[cc.DeviceId]; ok {
				c.setComponents(cc.ComponentList)
			}
		}
		read += len(page.ChildComponentList)
		if len(page.ChildComponentList) == 0 || read >= page.Sum {
			return nil
		}
	}
}

func (h *Hub) Children() []*Child {
	return h.children
}

func (h *Hub) Info() map[string]any {
	return h.info
}

func (h *Hub) DeviceId() string {
	id, _ := h.info["device_id"].(string)
	return id
}

func (h *Hub) Model() string {
	m, _ := h.info["model"].(string)
	return m
}

func (h *Hub) Alias() string {
	return decodeNickname(h.info["nickname"])
}

func (h *Hub) Close() error {
	return h.protocol.Close()
}

// decodeNickname returns the base64 decoded nickname, or the raw value when it
// is not base64 or does not decode to printable text. Plain names like "Door"
// are valid base64 too.
func decodeNickname(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !printable(b) {
		return s
	}
	return string(b)
}

func printable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
