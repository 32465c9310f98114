// Package peerclient implements the process-side agent described in
// spec.md §4.2: it connects to a collection manager's back_pull/back_pub
// pair, answers broadcast commands, and reports its own progress back
// over back_push.
//
// Grounded on the teacher's core/peer.go Peer: a single actor owning a
// receive loop and a transport, generalized here from "commit requests
// to a partition" to "answer broadcast transitions from a manager".
package peerclient

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/zmqtransport"

	"github.com/go-zeromq/zmq4"
)

// Transport is the pair of sockets a peer client stub needs: a
// broadcast-receive side (back_sub) and a confirmation-send side
// (back_push).
type Transport interface {
	RecvTimeout(timeout time.Duration) (envelope.Envelope, error)
	Send(env envelope.Envelope) error
}

type zmqTransport struct {
	sub  zmq4.Socket
	push zmq4.Socket
}

func (z zmqTransport) RecvTimeout(timeout time.Duration) (envelope.Envelope, error) {
	return zmqtransport.RecvWithTimeout(z.sub, timeout)
}

func (z zmqTransport) Send(env envelope.Envelope) error { return zmqtransport.Send(z.push, env) }

// TransportFromZMQ adapts a dialed zmqtransport.PeerSockets into the
// Transport interface.
func TransportFromZMQ(p *zmqtransport.PeerSockets) Transport {
	return zmqTransport{sub: p.BackSub, push: p.BackPush}
}

// pollInterval bounds how long a single RecvTimeout call blocks, so Run
// notices ctx cancellation promptly even with no traffic.
const pollInterval = 250 * time.Millisecond

// ErrInfoFunc lets a caller simulate or report a peer-side failure for a
// given transition, returned as body.err_info in that transition's
// reply. Returning a nil or empty map means success.
type ErrInfoFunc func(transition string) map[string]string

// PeerClient is one process's control-plane agent: it announces
// host/pid on plat, advertises connection details on alloc, and
// acknowledges every other lifecycle transition.
type PeerClient struct {
	id        string
	level     string
	host      string
	pid       int
	transport Transport
	log       logging.Logger

	// ConnectInfo is advertised verbatim in alloc's reply body.
	ConnectInfo map[string]interface{}

	// ErrInfo, if set, is consulted on every non-plat/alloc transition
	// to optionally fail it from this peer's side.
	ErrInfo ErrInfoFunc
}

// New builds a PeerClient with a stable id derived from host and pid.
func New(level, host string, pid int, transport Transport, log logging.Logger) *PeerClient {
	return &PeerClient{
		id:          StableID(host, pid),
		level:       level,
		host:        host,
		pid:         pid,
		transport:   transport,
		log:         log,
		ConnectInfo: map[string]interface{}{},
	}
}

// StableID hashes (host, pid) into a fixed-width hex id, unique per
// process: the same (host, pid) always yields the same id.
func StableID(host string, pid int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", host, pid)))
	return hex.EncodeToString(sum[:])[:16]
}

// ID returns this peer's stable identifier.
func (p *PeerClient) ID() string { return p.id }

// Run polls back_sub until ctx is cancelled, answering each envelope in
// turn. One peer is one actor: no concurrent handling of two broadcasts.
func (p *PeerClient) Run(ctx context.Context) error {
	p.log.Infof("peer %s (%s) starting: host=%s pid=%d", p.id, p.level, p.host, p.pid)
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("peer %s shutting down", p.id)
			return nil
		default:
		}

		env, err := p.transport.RecvTimeout(pollInterval)
		if err != nil {
			if err == zmqtransport.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			p.log.Errorf("back_sub recv: %v", err)
			continue
		}

		reply, ok := p.handle(env)
		if !ok {
			continue
		}
		if err := p.transport.Send(reply); err != nil {
			p.log.Errorf("back_push send %s: %v", reply.Header.Key, err)
		}
	}
}

// handle builds this peer's response to a single broadcast envelope.
// The second return value is false only for a key this peer does not
// recognize at all.
func (p *PeerClient) handle(env envelope.Envelope) (envelope.Envelope, bool) {
	sender := p.id
	switch env.Header.Key {
	case "plat":
		body := map[string]interface{}{
			p.level: map[string]interface{}{
				"proc_info": map[string]interface{}{"host": p.host, "pid": p.pid},
			},
		}
		return envelope.Reply("plat", env.Header.MsgID, &sender, body), true

	case "alloc":
		body := map[string]interface{}{
			p.level: map[string]interface{}{
				"connect_info": p.ConnectInfo,
			},
		}
		return envelope.Reply("alloc", env.Header.MsgID, &sender, body), true

	case "connect", "disconnect", "configure", "unconfigure", "enable", "disable",
		"beginrecord", "endrecord", "configupdate", "reset":
		body := map[string]interface{}{}
		if p.ErrInfo != nil {
			if errs := p.ErrInfo(env.Header.Key); len(errs) > 0 {
				errInfo := make(map[string]interface{}, len(errs))
				for node, msg := range errs {
					errInfo[node] = msg
				}
				body["err_info"] = errInfo
			}
		}
		return envelope.Reply("ok", env.Header.MsgID, &sender, body), true

	default:
		p.log.Debugf("peer %s: ignoring unknown key %s", p.id, env.Header.Key)
		return envelope.Envelope{}, false
	}
}
