package haProxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrAuthInvalid = errors.New("home assistant rejected the access token")

const defaultRetryDelay = 5 * time.Second

// wsMessage is the part of the Home Assistant websocket API the listener reads.
type wsMessage struct {
	Id      int      `json:"id,omitempty"`
	Type    string   `json:"type"`
	Success bool     `json:"success,omitempty"`
	Message string   `json:"message,omitempty"`
	Event   *wsEvent `json:"event,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityId string       `json:"entity_id"`
		NewState *EntityState `json:"new_state"`
	} `json:"data"`
}

// websocketUrl turns the REST base URL into the websocket endpoint.
func websocketUrl(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, base)
	}
	u.Path += "/api/websocket"
	return u.String(), nil
}

// EventListener subscribes to state_changed events and reports changes of the
// mirrored entities.
type EventListener struct {
	Url        string
	RetryDelay time.Duration
	token      string
	entities   map[string]bool
	dialer     *websocket.Dialer
	logger     *zap.SugaredLogger
}

func NewEventListener(baseUrl, token string, entities []string, timeout time.Duration, logger *zap.SugaredLogger) (*EventListener, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	u, err := websocketUrl(baseUrl)
	if err != nil {
		return nil, err
	}
	l := &EventListener{
		Url:        u,
		RetryDelay: defaultRetryDelay,
		token:      token,
		entities:   map[string]bool{},
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
		logger:     logger,
	}
	for _, e := range entities {
		l.entities[e] = true
	}
	return l, nil
}

// Run listens until ctx is done, reconnecting after RetryDelay whenever the
// connection fails.
func (l *EventListener) Run(ctx context.Context, changed func(entityId string)) {
	for {
		err := l.Listen(ctx, changed)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warnf("Home Assistant event stream at %s ended: %s", l.Url, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.RetryDelay):
		}
	}
}

// Listen runs one websocket session: authenticate, subscribe, then call
// changed for every state change of a mirrored entity.
func (l *EventListener) Listen(ctx context.Context, changed func(entityId string)) error {
	conn, _, err := l.dialer.DialContext(ctx, l.Url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.Url, err)
	}
	defer conn.Close()

	// unblock reads once ctx is done
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	msg := wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected %q before authentication", msg.Type)
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": l.token}); err != nil {
		return err
	}

	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	switch msg.Type {
	case "auth_ok":
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return fmt.Errorf("unexpected %q during authentication", msg.Type)
	}

	const subscriptionId = 1
	if err := conn.WriteJSON(map[string]any{
		"id":         subscriptionId,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		return err
	}
	l.logger.Infof("Subscribed to state changes of %d entities at %s", len(l.entities), l.Url)

	for {
		msg = wsMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Id != subscriptionId {
			continue
		}
		switch msg.Type {
		case "result":
			if !msg.Success {
				if msg.Error != nil {
					return fmt.Errorf("subscribe_events: %s", msg.Error.Message)
				}
				return errors.New("subscribe_events failed")
			}
		case "event":
			if msg.Event == nil || msg.Event.EventType != "state_changed" {
				continue
			}
			eid := msg.Event.Data.EntityId
			if l.entities[eid] {
				l.logger.Debugf("State of %s changed", eid)
				changed(eid)
			}
		}
	}
}
