package kasaHub

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Client owns the connection to one hub. Every interaction with the hub
// (connect, refresh, commands) runs under mu.
type Client struct {
	Address    string
	creds      *Credentials
	discoverer Discoverer
	policy     ActionPolicy
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	hub      Hub
	children map[string]Child
	states   DeviceMap
}

type Option func(*Client)

func WithCredentials(creds *Credentials) Option {
	return func(c *Client) {
		if creds != nil && (creds.Username != "" || creds.Password != "") {
			c.creds = creds
		}
	}
}

func WithActionPolicy(policy ActionPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(address string, discoverer Discoverer, options ...Option) *Client {
	c := &Client{
		Address:    address,
		discoverer: discoverer,
		policy:     ActionPolicyIdle,
		logger:     zap.NewNop().Sugar(),
		children:   map[string]Child{},
		states:     DeviceMap{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect opens the hub handle. It does nothing when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.hub != nil {
		return nil
	}
	c.logger.Infof("Connecting to hub at %s", c.Address)
	hub, err := c.discoverer.Discover(ctx, c.Address, c.creds)
	if err != nil {
		c.logger.Errorf("Failed to connect to hub at %s: %s", c.Address, err)
		return &HubError{Op: "connect", DeviceId: c.Address, Err: &notReady{cause: err}}
	}
	c.hub = hub
	return nil
}

// Disconnect releases the hub handle unconditionally.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.hub == nil {
		return nil
	}
	c.logger.Infof("Disconnecting from hub at %s", c.Address)
	err := c.hub.Close()
	c.hub = nil
	c.children = map[string]Child{}
	return err
}

// changes returns the change channel of the connected hub. It is nil when the
// hub does not push changes, which blocks forever in a select.
func (c *Client) changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.hub.(ChangeNotifier); ok {
		return n.Changes()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hub != nil
}

// Refresh polls the hub and every child and returns the complete device map.
// A child whose update fails is skipped for this cycle; a hub level failure
// drops the connection so that the next call reconnects.
func (c *Client) Refresh(ctx context.Context) (DeviceMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	if err := c.hub.Update(ctx); err != nil {
		c.logger.Errorf("Updating hub %s failed: %s", c.Address, err)
		c.dropLocked()
		return nil, &HubError{Op: "refresh", DeviceId: c.Address, Err: &notReady{cause: err}}
	}

	children := map[string]Child{}
	states := DeviceMap{}
	for _, child := range c.hub.Children() {
		if err := child.Update(ctx); err != nil {
			c.logger.Warnf("Skipping child after failed update: %s", err)
			continue
		}
		id := deviceId(child)
		if _, dup := children[id]; dup {
			c.logger.Warnf("Skipping child with duplicate id %s", id)
			continue
		}
		children[id] = child

		state, ok := normalizeChild(id, child, c.policy)
		if !ok {
			c.logger.Debugf("Omitting unclassified device %s", id)
			continue
		}
		states[id] = state
	}
	c.children = children
	c.states = states

	c.logger.Debugf("Refreshed %d devices: %v", len(states), SortedIds(states))
	return maps.Clone(states), nil
}

// States returns the map computed by the last successful refresh.
func (c *Client) States() DeviceMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.states)
}

// SortedIds returns the keys of m in order.
func SortedIds(m DeviceMap) []string {
	ids := maps.Keys(m)
	slices.Sort(ids)
	return ids
}

// rebuildTableLocked refreshes the id to child table without normalizing.
func (c *Client) rebuildTableLocked(ctx context.Context) error {
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	if err := c.hub.Update(ctx); err != nil {
		c.dropLocked()
		return &HubError{Op: "refresh", DeviceId: c.Address, Err: &notReady{cause: err}}
	}
	children := map[string]Child{}
	for _, child := range c.hub.Children() {
		id := deviceId(child)
		if _, dup := children[id]; !dup {
			children[id] = child
		}
	}
	c.children = children
	return nil
}

func (c *Client) resolveLocked(ctx context.Context, id string) (Child, error) {
	if child, ok := c.children[id]; ok {
		return child, nil
	}
	c.logger.Debugf("Device %s not cached, reloading children", id)
	if err := c.rebuildTableLocked(ctx); err != nil {
		return nil, err
	}
	if child, ok := c.children[id]; ok {
		return child, nil
	}
	return nil, ErrDeviceNotFound
}
