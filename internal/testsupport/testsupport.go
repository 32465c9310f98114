// Package testsupport provides in-memory stand-ins for the four
// control-plane sockets, used by the manager and peerclient package
// tests instead of real ZMQ transport. Grounded on the teacher's
// test/testing.go harness (TestInvoker, WaitThisOrTimeout): small,
// hand-rolled fakes over channels rather than a mocking framework.
package testsupport

import (
	"sync"
	"time"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

// FanOut is a minimal in-process PUB socket double: every Send fans
// out to every still-registered Subscribe()r, non-blockingly, the way
// a slow SUB would simply miss messages on a real PUB/SUB socket.
type FanOut struct {
	mu   sync.Mutex
	subs []chan envelope.Envelope
}

// Subscribe registers a new receiver and returns its channel.
func (f *FanOut) Subscribe() chan envelope.Envelope {
	ch := make(chan envelope.Envelope, 64)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Send implements the manager's BackPub/FrontPub interfaces.
func (f *FanOut) Send(env envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

// PullQueue is an in-process PULL socket double: many producers Push,
// one consumer RecvTimeout()s.
type PullQueue struct {
	ch chan envelope.Envelope
}

// NewPullQueue creates a PullQueue with a generous buffer so
// concurrently-answering fake peers never block on Push.
func NewPullQueue() *PullQueue {
	return &PullQueue{ch: make(chan envelope.Envelope, 256)}
}

// Push is the peer side of PULL: send a confirmation.
func (q *PullQueue) Push(env envelope.Envelope) { q.ch <- env }

// RecvTimeout implements manager.BackPull.
func (q *PullQueue) RecvTimeout(timeout time.Duration) (envelope.Envelope, error) {
	select {
	case env := <-q.ch:
		return env, nil
	case <-time.After(timeout):
		return envelope.Envelope{}, zmqtransport.ErrTimeout
	}
}

// ReqRep is an in-process REQ/REP socket pair double.
type ReqRep struct {
	req chan envelope.Envelope
	rep chan envelope.Envelope
}

// NewReqRep creates an unbuffered request/reply pair, mirroring REQ/REP's
// strict one-in-flight-at-a-time semantics.
func NewReqRep() *ReqRep {
	return &ReqRep{req: make(chan envelope.Envelope), rep: make(chan envelope.Envelope)}
}

// Recv implements manager.FrontRep (server side).
func (r *ReqRep) Recv() (envelope.Envelope, error) { return <-r.req, nil }

// Send implements manager.FrontRep (server side).
func (r *ReqRep) Send(env envelope.Envelope) error { r.rep <- env; return nil }

// Request implements the client side: send env, block for the reply.
func (r *ReqRep) Request(env envelope.Envelope) envelope.Envelope {
	r.req <- env
	return <-r.rep
}

// WaitOrTimeout runs cb in a goroutine and reports whether it finished
// before duration elapsed.
func WaitOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
