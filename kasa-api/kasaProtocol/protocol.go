package kasaProtocol

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// SmartProtocol speaks the JSON request/response dialect on top of a transport.
type SmartProtocol struct {
	transport    Transport
	terminalUUID string
	logger       *zap.SugaredLogger
}

// randReader is the source of the terminal uuid and the handshake seeds.
var randReader io.Reader = rand.Reader

func NewSmartProtocol(transport Transport, logger *zap.SugaredLogger) (*SmartProtocol, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	id := make([]byte, 16)
	if _, err := io.ReadFull(randReader, id); err != nil {
		return nil, fmt.Errorf("terminal uuid: %w", err)
	}
	return &SmartProtocol{
		transport:    transport,
		terminalUUID: base64.StdEncoding.EncodeToString(id),
		logger:       logger,
	}, nil
}

// Query sends method with params and decodes the result into result.
// A session that expired on the device is retried once.
func (p *SmartProtocol) Query(ctx context.Context, method string, params any, result any) error {
	res, err := p.send(ctx, method, params)
	if errors.Is(err, ErrSessionExpired) {
		p.logger.Infof("Session expired during %s, retrying", method)
		if r, ok := p.transport.(interface{ Reset() }); ok {
			r.Reset()
		}
		res, err = p.send(ctx, method, params)
	}
	if err != nil {
		return err
	}
	return res.Decode(method, result)
}

func (p *SmartProtocol) send(ctx context.Context, method string, params any) (Response, error) {
	payload, err := json.Marshal(Request{
		Method:            method,
		Params:            params,
		RequestTimeMillis: time.Now().UnixMilli(),
		TerminalUUID:      p.terminalUUID,
	})
	if err != nil {
		return Response{}, err
	}
	p.logger.Debugf("Smart request: %s", method)

	body, err := p.transport.Send(ctx, payload)
	if err != nil {
		return Response{}, err
	}

	res := Response{}
	if err := json.Unmarshal(body, &res); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", method, err)
	}
	if res.ErrorCode == 9999 {
		return res, ErrSessionExpired
	}
	return res, nil
}

// QueryChild wraps a request in control_child for the given child device.
func (p *SmartProtocol) QueryChild(ctx context.Context, deviceId, method string, params any, result any) error {
	wrapped := ControlChildResult{}
	err := p.Query(ctx, "control_child", ControlChildParams{
		DeviceId:    deviceId,
		RequestData: Request{Method: method, Params: params},
	}, &wrapped)
	if err != nil {
		return err
	}
	return wrapped.ResponseData.Decode(method, result)
}

func (p *SmartProtocol) Close() error {
	return p.transport.Close()
}
