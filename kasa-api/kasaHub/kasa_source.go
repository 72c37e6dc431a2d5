package kasaHub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaClient"
)

// KasaDiscoverer connects to a hub over the local KLAP protocol.
type KasaDiscoverer struct {
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

func (d KasaDiscoverer) Discover(ctx context.Context, address string, creds *Credentials) (Hub, error) {
	var options []kasaClient.Option
	if d.Timeout > 0 {
		options = append(options, kasaClient.WithTimeout(d.Timeout))
	}
	if d.Logger != nil {
		options = append(options, kasaClient.WithLogger(d.Logger))
	}

	var kc *kasaClient.Credentials
	if creds != nil {
		kc = &kasaClient.Credentials{Username: creds.Username, Password: creds.Password}
	}
	hub, err := kasaClient.Discover(ctx, address, kc, options...)
	if err != nil {
		return nil, err
	}
	return &kasaHub{hub: hub, children: map[*kasaClient.Child]*kasaChild{}}, nil
}

// kasaHub keeps one wrapper per library child so that wrappers stay
// identical between refreshes.
type kasaHub struct {
	hub      *kasaClient.Hub
	children map[*kasaClient.Child]*kasaChild
}

func (h *kasaHub) Update(ctx context.Context) error {
	return h.hub.Update(ctx)
}

func (h *kasaHub) Children() []Child {
	current := h.hub.Children()
	wrappers := make(map[*kasaClient.Child]*kasaChild, len(current))
	children := make([]Child, 0, len(current))
	for _, c := range current {
		w, ok := h.children[c]
		if !ok {
			w = &kasaChild{c}
		}
		wrappers[c] = w
		children = append(children, w)
	}
	h.children = wrappers
	return children
}

func (h *kasaHub) Close() error {
	return h.hub.Close()
}

type kasaChild struct {
	*kasaClient.Child
}

// Modules keeps the library's own key type; lookups match it by name.
func (c *kasaChild) Modules() ModuleTable {
	table := ModuleTable{}
	for name, m := range c.Child.Modules() {
		table[name] = m
	}
	return table
}

func (c *kasaChild) Features() []Feature {
	src := c.Child.Features()
	features := make([]Feature, 0, len(src))
	for _, f := range src {
		features = append(features, Feature{Id: f.Id, Name: f.Name, Value: f.Value})
	}
	return features
}
