package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

// UDP sends each message as one datagram over memberlist's NetTransport.
// Only its packet path is used; stream connections are refused.
type UDP struct {
	nt  *memberlist.NetTransport
	log *zap.SugaredLogger

	handler gossip.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewUDP binds host:port. host must be an IP address.
func NewUDP(host string, port int, log *zap.SugaredLogger) (*UDP, error) {
	nt, err := memberlist.NewNetTransport(&memberlist.NetTransportConfig{
		BindAddrs: []string{host},
		BindPort:  port,
		Logger:    zap.NewStdLog(log.Desugar()),
	})
	if err != nil {
		return nil, fmt.Errorf("udp transport on %s:%d: %w", host, port, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UDP{nt: nt, log: log, ctx: ctx, cancel: cancel}, nil
}

func (u *UDP) Start(h gossip.MessageHandler) error {
	u.handler = h
	u.wg.Add(1)
	go u.receive()
	u.log.Infow("gossip transport listening", "transport", KindUDP, "port", u.nt.GetAutoBindPort())
	return nil
}

func (u *UDP) receive() {
	defer u.wg.Done()
	for {
		select {
		case <-u.ctx.Done():
			return
		case p := <-u.nt.PacketCh():
			msg, err := Decode(p.Buf)
			if err != nil {
				u.log.Warnw("dropping undecodable gossip packet", "from", p.From, "error", err)
				continue
			}
			if err := u.handler.HandleMessage(u.ctx, msg); err != nil {
				u.log.Debugw("gossip message rejected", "from", msg.From, "verb", msg.Verb, "error", err)
			}
		case conn := <-u.nt.StreamCh():
			_ = conn.Close()
		}
	}
}

// Port is the bound UDP port, useful when port 0 was asked for.
func (u *UDP) Port() int {
	return u.nt.GetAutoBindPort()
}

func (u *UDP) SendOneWay(_ context.Context, msg *gossip.Message, to gossip.Endpoint) error {
	if u.ctx.Err() != nil {
		return ErrStopped
	}
	b, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := u.nt.WriteTo(b, to.Addr()); err != nil {
		return fmt.Errorf("write to %s: %w", to, err)
	}
	return nil
}

func (u *UDP) Stop() error {
	var err error
	u.once.Do(func() {
		u.cancel()
		err = u.nt.Shutdown()
		u.wg.Wait()
	})
	return err
}
