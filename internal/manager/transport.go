package manager

import (
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

// BackPub is the manager's outbound broadcast channel to peers
// (back_pub, spec.md §4.1).
type BackPub interface {
	Send(env envelope.Envelope) error
}

// BackPull is the manager's inbound confirmation channel from peers
// (back_pull).
type BackPull interface {
	RecvTimeout(timeout time.Duration) (envelope.Envelope, error)
}

// FrontRep is the manager's request/reply channel with operators
// (front_rep).
type FrontRep interface {
	Recv() (envelope.Envelope, error)
	Send(env envelope.Envelope) error
}

// FrontPub is the manager's outbound status/error channel to operators
// (front_pub).
type FrontPub interface {
	Send(env envelope.Envelope) error
}

// Sockets bundles the four channels a Manager needs. Production code
// builds one from a *zmqtransport.ManagerSockets; tests build one from
// in-memory fakes (internal/testsupport).
type Sockets struct {
	BackPub  BackPub
	BackPull BackPull
	FrontRep FrontRep
	FrontPub FrontPub
}

type zmqBackPub struct{ sock zmq4.Socket }

func (z zmqBackPub) Send(env envelope.Envelope) error { return zmqtransport.Send(z.sock, env) }

type zmqBackPull struct{ sock zmq4.Socket }

func (z zmqBackPull) RecvTimeout(timeout time.Duration) (envelope.Envelope, error) {
	return zmqtransport.RecvWithTimeout(z.sock, timeout)
}

type zmqFrontRep struct{ sock zmq4.Socket }

func (z zmqFrontRep) Recv() (envelope.Envelope, error)        { return zmqtransport.Recv(z.sock) }
func (z zmqFrontRep) Send(env envelope.Envelope) error        { return zmqtransport.Send(z.sock, env) }

type zmqFrontPub struct{ sock zmq4.Socket }

func (z zmqFrontPub) Send(env envelope.Envelope) error { return zmqtransport.Send(z.sock, env) }

// SocketsFromZMQ adapts bound ZMQ sockets to the Sockets interface set.
func SocketsFromZMQ(m *zmqtransport.ManagerSockets) Sockets {
	return Sockets{
		BackPub:  zmqBackPub{m.BackPub},
		BackPull: zmqBackPull{m.BackPull},
		FrontRep: zmqFrontRep{m.FrontRep},
		FrontPub: zmqFrontPub{m.FrontPub},
	}
}
