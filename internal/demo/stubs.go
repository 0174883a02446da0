package demo

import (
	"context"

	"github.com/mithrel/localrmi/pkg/remoting"
)

// TesterClient is the Tester stub.
type TesterClient struct {
	c *remoting.Client[Tester]
}

var _ Tester = (*TesterClient)(nil)

func NewTesterClient(settings remoting.ClientSettings) (*TesterClient, error) {
	if settings.ErrorFactory == nil {
		settings.ErrorFactory = ErrorFactory
	}
	c, err := remoting.NewClient[Tester](settings)
	if err != nil {
		return nil, err
	}
	return &TesterClient{c: c}, nil
}

func (t *TesterClient) Half(ctx context.Context, n int) (int, error) {
	return remoting.Call[int](ctx, t.c, "Half", n)
}

func (t *TesterClient) Combine(ctx context.Context, part1, part2 string, more ...string) (string, error) {
	return remoting.Call[string](ctx, t.c, "Combine", part1, part2, more)
}

func (t *TesterClient) WaitForCancel(ctx context.Context) error {
	_, err := t.c.Invoke(ctx, "WaitForCancel")
	return err
}

// Touch cannot report failures through the interface; use TouchErr.
func (t *TesterClient) Touch(ctx context.Context) { _ = t.TouchErr(ctx) }

func (t *TesterClient) TouchErr(ctx context.Context) error {
	_, err := t.c.Invoke(ctx, "Touch")
	return err
}

// HasherClient is the Hasher stub.
type HasherClient struct {
	c *remoting.Client[Hasher]
}

var _ Hasher = (*HasherClient)(nil)

func NewHasherClient(settings remoting.ClientSettings) (*HasherClient, error) {
	c, err := remoting.NewClient[Hasher](settings)
	if err != nil {
		return nil, err
	}
	return &HasherClient{c: c}, nil
}

func (h *HasherClient) Digest(ctx context.Context, parts ...string) (string, error) {
	return remoting.Call[string](ctx, h.c, "Digest", parts)
}

// Methods lists the Tester methods callable by name.
func (t *TesterClient) Methods() []string {
	var names []string
	for _, m := range t.c.Methods().Methods() {
		names = append(names, m.Name)
	}
	return names
}
