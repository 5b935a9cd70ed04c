package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

// DefaultSendTimeout bounds one outbound gossip call.
const DefaultSendTimeout = 2 * time.Second

// GRPC carries gossip as unary calls on a gossip.v1.Gossip service. Sends are
// fire and forget: they run in the background and failures are only logged.
type GRPC struct {
	addr string
	srv  *grpc.Server
	lis  net.Listener
	log  *zap.SugaredLogger

	handler gossip.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	stopped bool

	SendTimeout time.Duration
}

func NewGRPC(host string, port int, log *zap.SugaredLogger) (*GRPC, error) {
	if host == "" || port <= 0 {
		return nil, fmt.Errorf("invalid address: %s:%d", host, port)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GRPC{
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		srv:         grpc.NewServer(),
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[string]*grpc.ClientConn),
		SendTimeout: DefaultSendTimeout,
	}, nil
}

func (g *GRPC) setupTcp() (net.Listener, error) {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return lis, nil
}

// Start listens and serves in the background.
func (g *GRPC) Start(h gossip.MessageHandler) error {
	lis, err := g.setupTcp()
	if err != nil {
		return fmt.Errorf("failed to setup TCP: %w", err)
	}
	g.lis = lis
	g.handler = h

	g.srv.RegisterService(&gossipServiceDesc, g)
	// Register reflection service for gRPC tools (grpcurl, grpcui, etc.)
	reflection.Register(g.srv)

	go func() {
		if err := g.srv.Serve(lis); err != nil {
			g.log.Errorw("gossip server stopped", "addr", g.addr, "error", err)
		}
	}()
	g.log.Infow("gossip transport listening", "transport", KindGRPC, "addr", lis.Addr().String())
	return nil
}

// Addr is the bound listen address, useful when port 0 was asked for.
func (g *GRPC) Addr() string {
	if g.lis == nil {
		return g.addr
	}
	return g.lis.Addr().String()
}

// Deliver hands one inbound message to the gossiper and returns at once.
func (g *GRPC) Deliver(_ context.Context, in *frame) (*frame, error) {
	msg, err := Decode(in.b)
	if err != nil {
		g.log.Warnw("dropping undecodable gossip message", "error", err)
		return nil, err
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.handler.HandleMessage(g.ctx, msg); err != nil {
			g.log.Debugw("gossip message rejected", "from", msg.From, "verb", msg.Verb, "error", err)
		}
	}()
	return &frame{}, nil
}

func (g *GRPC) SendOneWay(ctx context.Context, msg *gossip.Message, to gossip.Endpoint) error {
	b, err := Encode(msg)
	if err != nil {
		return err
	}
	conn, err := g.conn(to.Addr())
	if err != nil {
		return err
	}

	go func() {
		defer g.wg.Done()
		callCtx, cancel := context.WithTimeout(g.ctx, g.SendTimeout)
		defer cancel()
		err := conn.Invoke(callCtx, deliverMethod, &frame{b: b}, &frame{}, grpc.CallContentSubtype(codecName))
		if err != nil {
			g.log.Debugw("gossip call failed", "to", to, "verb", msg.Verb, "error", err)
		}
	}()
	return nil
}

// conn returns the cached connection to addr and counts the call that is
// about to use it as in flight.
func (g *GRPC) conn(addr string) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return nil, ErrStopped
	}
	c, ok := g.conns[addr]
	if !ok {
		var err error
		c, err = grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		g.conns[addr] = c
	}
	g.wg.Add(1)
	return c, nil
}

// Stop drains in-flight calls, stops the server and closes every connection.
func (g *GRPC) Stop() error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	g.mu.Unlock()

	g.srv.GracefulStop()
	// outbound calls are bounded by SendTimeout; let the last ones, such as
	// a shutdown announcement, go out before cancelling
	g.wg.Wait()
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	var errs error
	for addr, c := range g.conns {
		errs = multierr.Append(errs, c.Close())
		delete(g.conns, addr)
	}
	return errs
}
