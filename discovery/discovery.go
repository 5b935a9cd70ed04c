// Package discovery resolves the seeds a node gossips with on startup.
package discovery

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/multierr"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

var ErrNotRegistered = errors.New("endpoint not registered")

// Provider lists seeds. Providers backed by a registry also advertise the
// local endpoint so later nodes can find it.
type Provider interface {
	Seeds(ctx context.Context) ([]gossip.Endpoint, error)
	Register(ctx context.Context, self gossip.Endpoint) error
	Deregister(ctx context.Context) error
}

// Static is a fixed seed list.
type Static struct {
	seeds []gossip.Endpoint
}

// NewStatic parses every address; all parse failures are reported together.
func NewStatic(addrs []string) (*Static, error) {
	var errs error
	seeds := make([]gossip.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		ep, err := gossip.ParseEndpoint(a)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !slices.Contains(seeds, ep) {
			seeds = append(seeds, ep)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return &Static{seeds: seeds}, nil
}

func (s *Static) Seeds(context.Context) ([]gossip.Endpoint, error) {
	return slices.Clone(s.seeds), nil
}

func (s *Static) Register(context.Context, gossip.Endpoint) error { return nil }

func (s *Static) Deregister(context.Context) error { return nil }
