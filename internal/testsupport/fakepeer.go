package testsupport

import (
	"github.com/jabolina/go-collect/internal/envelope"
)

// FakePeer is a scripted stand-in for the peer client stub
// (internal/peerclient), used to drive manager end-to-end tests
// without real ZMQ sockets or processes.
type FakePeer struct {
	ID    string
	Level string
	Host  string
	PID   int

	sub  chan envelope.Envelope
	pull *PullQueue

	// ErrInfo, keyed by transition name, is returned as body.err_info
	// on that transition's reply, simulating a peer-reported failure.
	ErrInfo map[string]map[string]string

	// Skip lists transitions this peer silently ignores, simulating a
	// peer that does not respond (spec.md §8's missing-peer scenarios).
	Skip map[string]bool

	stop chan struct{}
}

// NewFakePeer wires a peer to the manager's back_pub fan-out (sub) and
// back_pull queue (pull).
func NewFakePeer(id, level, host string, pid int, sub chan envelope.Envelope, pull *PullQueue) *FakePeer {
	return &FakePeer{
		ID:      id,
		Level:   level,
		Host:    host,
		PID:     pid,
		sub:     sub,
		pull:    pull,
		ErrInfo: map[string]map[string]string{},
		Skip:    map[string]bool{},
		stop:    make(chan struct{}),
	}
}

// Run processes back_pub broadcasts until Stop is called. Intended to
// run in its own goroutine, one per simulated peer.
func (p *FakePeer) Run() {
	for {
		select {
		case env, ok := <-p.sub:
			if !ok {
				return
			}
			p.handle(env)
		case <-p.stop:
			return
		}
	}
}

// Stop ends this peer's Run loop.
func (p *FakePeer) Stop() { close(p.stop) }

func (p *FakePeer) handle(env envelope.Envelope) {
	if p.Skip[env.Header.Key] {
		return
	}

	sender := p.ID
	switch env.Header.Key {
	case "plat":
		body := map[string]interface{}{
			p.Level: map[string]interface{}{
				"proc_info": map[string]interface{}{"host": p.Host, "pid": p.PID},
			},
		}
		p.pull.Push(envelope.Reply("plat", env.Header.MsgID, &sender, body))
	case "alloc":
		body := map[string]interface{}{
			p.Level: map[string]interface{}{
				"connect_info": map[string]interface{}{"infiniband": "192.0.2.1"},
			},
		}
		p.pull.Push(envelope.Reply("alloc", env.Header.MsgID, &sender, body))
	case "connect":
		p.pull.Push(envelope.Reply("ok", env.Header.MsgID, &sender, nil))
	case "reset":
		// condition_reset does not wait for a reply.
	default:
		body := map[string]interface{}{}
		if errInfo, ok := p.ErrInfo[env.Header.Key]; ok && len(errInfo) > 0 {
			errs := make(map[string]interface{}, len(errInfo))
			for node, msg := range errInfo {
				errs[node] = msg
			}
			body["err_info"] = errs
		}
		p.pull.Push(envelope.Reply("ok", env.Header.MsgID, &sender, body))
	}
}
