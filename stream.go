package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

// hubCommander is the part of kasaHub.Client the stream forwards to.
type hubCommander interface {
	Refresh(ctx context.Context) (kasaHub.DeviceMap, error)
	States() kasaHub.DeviceMap
	SetTargetTemperature(ctx context.Context, id string, value float64) error
	SetMode(ctx context.Context, id string, mode kasaHub.HVACMode) error
}

// deviceEntry tags a state with its kind for json and yaml output.
type deviceEntry struct {
	Kind  kasaHub.DeviceKind  `json:"kind" yaml:"kind"`
	State kasaHub.DeviceState `json:"state" yaml:"state"`
}

func deviceEntries(states kasaHub.DeviceMap) map[string]deviceEntry {
	entries := make(map[string]deviceEntry, len(states))
	for id, s := range states {
		entries[id] = deviceEntry{Kind: s.Kind(), State: s}
	}
	return entries
}

// Request is sent by a stream client to change a device.
type Request struct {
	Id          int64    `json:"id"`
	DeviceId    string   `json:"device_id"`
	Temperature *float64 `json:"temperature,omitempty"`
	Mode        string   `json:"mode,omitempty"`
}

// Message is sent to stream clients: either the device map or the result of
// a request.
type Message struct {
	Type    string                 `json:"type"`
	Devices map[string]deviceEntry `json:"devices,omitempty"`
	Id      int64                  `json:"id,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamConn) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(m)
}

type stateStream struct {
	ctx      context.Context
	hub      hubCommander
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*streamConn
}

func newStateStream(ctx context.Context, hub hubCommander) *stateStream {
	return &stateStream{ctx: ctx, hub: hub}
}

// Broadcast pushes the device map to every client. Dead clients are dropped.
func (s *stateStream) Broadcast(states kasaHub.DeviceMap) {
	m := Message{Type: "states", Devices: deviceEntries(states)}

	s.mu.Lock()
	defer s.mu.Unlock()
	alive := s.conns[:0]
	for _, c := range s.conns {
		if err := c.send(m); err != nil {
			sugar.Infof("Dropping stream client %s: %s", c.conn.RemoteAddr(), err)
			c.conn.Close()
			continue
		}
		alive = append(alive, c)
	}
	s.conns = alive
}

func (s *stateStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sugar.Warnf("Stream upgrade failed: %s", err)
		return
	}
	c := &streamConn{conn: conn}
	if err := c.send(Message{Type: "states", Devices: deviceEntries(s.hub.States())}); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	go s.readRequests(c)
}

func (s *stateStream) readRequests(c *streamConn) {
	for {
		req := Request{}
		if err := c.conn.ReadJSON(&req); err != nil {
			sugar.Debugf("Stream client %s gone: %s", c.conn.RemoteAddr(), err)
			c.conn.Close()
			return
		}

		result := Message{Type: "result", Id: req.Id}
		if err := s.apply(s.ctx, req); err != nil {
			result.Error = err.Error()
		}
		if err := c.send(result); err != nil {
			c.conn.Close()
			return
		}
		if result.Error == "" {
			states, err := s.hub.Refresh(s.ctx)
			if err == nil {
				s.Broadcast(states)
			}
		}
	}
}

var errEmptyRequest = errors.New("request needs a temperature or a mode")

func (s *stateStream) apply(ctx context.Context, req Request) error {
	if req.DeviceId == "" {
		return errors.New("request needs a device_id")
	}
	switch {
	case req.Temperature != nil:
		return s.hub.SetTargetTemperature(ctx, req.DeviceId, *req.Temperature)
	case req.Mode != "":
		mode := kasaHub.HVACMode(req.Mode)
		if mode != kasaHub.ModeHeat && mode != kasaHub.ModeOff {
			return fmt.Errorf("unknown mode %q", req.Mode)
		}
		return s.hub.SetMode(ctx, req.DeviceId, mode)
	}
	return errEmptyRequest
}

func (s *stateStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.conns = nil
}
