package remoting

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// clientBase performs one connect/send/receive/close round trip per call.
type clientBase struct {
	settings ClientSettings
	path     string
	log      zerolog.Logger
	codec    *valueCodec
}

func newClientBase(settings ClientSettings, category string, types TypeResolver) (*clientBase, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	path, err := transport.SocketPath(settings.RuntimeDir, settings.Path)
	if err != nil {
		return nil, err
	}
	if settings.Types != nil {
		types = settings.Types
	}
	return &clientBase{
		settings: settings,
		path:     path,
		log:      createLogger(settings.LoggerFactory, category).With().Str("server_path", path).Logger(),
		codec:    newValueCodec(settings.Serializer, types),
	}, nil
}

// Path returns the resolved socket path of the server.
func (c *clientBase) Path() string { return c.path }

func (c *clientBase) roundTrip(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	conn, err := transport.Dial(ctx, c.path, transport.DialOptions{
		Host:           c.settings.Host,
		ConnectTimeout: c.settings.ConnectTimeout,
		RetryInterval:  c.settings.RetryInterval,
		Security:       c.settings.Security,
		Logger:         c.log,
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := transport.WriteMessage(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp envelope.Response
	if err := transport.ReadMessage(ctx, conn, &resp); err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	return &resp, nil
}

// result turns a response into a value of type declared, or the rebuilt
// remote error. A nil declared type expects no value.
func (c *clientBase) result(resp *envelope.Response, declared reflect.Type) (any, error) {
	if resp.Error != nil {
		return nil, rebuildError(resp.Error, c.settings.ErrorFactory)
	}
	if declared == nil || resp.Result == nil || resp.Result.IsVoid() {
		return nil, nil
	}
	v, err := c.codec.decode(*resp.Result, declared)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}
