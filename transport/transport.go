// Package transport moves gossip messages between nodes. Every transport
// shares the byte layout of Encode/Decode.
package transport

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

const (
	KindGRPC  = "grpc"
	KindUDP   = "udp"
	KindInmem = "inmem"
)

var (
	ErrUnknownKind = errors.New("unknown transport")
	ErrUnreachable = errors.New("endpoint unreachable")
	ErrStopped     = errors.New("transport stopped")
	errNotFrame    = errors.New("payload is not a gossip frame")
)

// Transport is a gossip.Transport with a lifecycle. Start begins delivering
// inbound messages to h.
type Transport interface {
	gossip.Transport
	Start(h gossip.MessageHandler) error
	Stop() error
}

type Config struct {
	Kind string
	// BindAddress is the interface to listen on; empty means the host of Local.
	BindAddress string
	Local       gossip.Endpoint
	// Network is required by the inmem transport.
	Network *Network
	Logger  *zap.SugaredLogger
}

func New(cfg Config) (Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	bind := cfg.BindAddress
	if bind == "" {
		bind = cfg.Local.Host
	}
	switch cfg.Kind {
	case KindGRPC, "":
		return NewGRPC(bind, cfg.Local.Port, cfg.Logger)
	case KindUDP:
		return NewUDP(bind, cfg.Local.Port, cfg.Logger)
	case KindInmem:
		if cfg.Network == nil {
			return nil, fmt.Errorf("inmem transport needs a network")
		}
		return cfg.Network.Transport(cfg.Local), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
