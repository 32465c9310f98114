// Package monitor implements the Status Monitor described in
// spec.md §4.6: a background worker subscribed to the manager's
// front_pub, invoking a caller-supplied callback per envelope and
// shutting down on a caller-set stop signal.
//
// Grounded on the teacher's fuzzy/commit_test.go style of a single
// long-lived goroutine polling a channel/socket with a bounded
// timeout, generalized from the original_source's MonitorThread
// (a threading.Thread with a callback and a stopper Event).
package monitor

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

// recvTimeout bounds each poll so Run notices ctx cancellation within
// 250ms even with the manager silent, per spec.md §4.6.
const recvTimeout = 250 * time.Millisecond

// Subscriber is the front_pub receive side a Monitor depends on.
type Subscriber interface {
	RecvTimeout(timeout time.Duration) (envelope.Envelope, error)
}

type zmqSubscriber struct{ sock zmq4.Socket }

func (z zmqSubscriber) RecvTimeout(timeout time.Duration) (envelope.Envelope, error) {
	return zmqtransport.RecvWithTimeout(z.sock, timeout)
}

// SubscriberFromZMQ adapts a dialed front_pub SUB socket.
func SubscriberFromZMQ(sock zmq4.Socket) Subscriber { return zmqSubscriber{sock: sock} }

// Callback is invoked once per received status or error envelope.
type Callback func(env envelope.Envelope)

// Monitor is the Status Monitor actor: one subscriber, one callback,
// one cancellation source.
type Monitor struct {
	sub      Subscriber
	callback Callback
	log      logging.Logger
}

// New builds a Monitor over sub, invoking callback for every envelope
// it receives.
func New(sub Subscriber, callback Callback, log logging.Logger) *Monitor {
	return &Monitor{sub: sub, callback: callback, log: log}
}

// Run polls front_pub until ctx is cancelled. Transient receive errors
// are logged and retried; the monitor never exits except via ctx.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("status monitor starting")
	for {
		select {
		case <-ctx.Done():
			m.log.Info("status monitor shutting down")
			return
		default:
		}

		env, err := m.sub.RecvTimeout(recvTimeout)
		if err != nil {
			if err == zmqtransport.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.log.Errorf("front_pub recv: %v", err)
			continue
		}
		m.callback(env)
	}
}
