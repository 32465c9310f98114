package zmqtransport

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/jabolina/go-collect/internal/envelope"
)

// ErrTimeout is returned by RecvWithTimeout when no message arrives
// within the requested window.
var ErrTimeout = errors.New("zmqtransport: receive timed out")

// Send marshals env as JSON and sends it as a single-frame message.
func Send(sock zmq4.Socket, env envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return sock.Send(zmq4.NewMsg(data))
}

// Recv blocks until an envelope arrives and unmarshals it.
func Recv(sock zmq4.Socket) (envelope.Envelope, error) {
	msg, err := sock.Recv()
	if err != nil {
		return envelope.Envelope{}, err
	}
	var env envelope.Envelope
	if err := json.Unmarshal(msg.Bytes(), &env); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}

// recvResult bundles the outcome of a background Recv for use with
// RecvWithTimeout's select below.
type recvResult struct {
	env envelope.Envelope
	err error
}

// RecvWithTimeout waits up to timeout for the next envelope on sock.
// go-zeromq/zmq4's Socket.Recv has no per-call RCVTIMEO, so a receive
// is raced in a goroutine against a timer; a message that arrives
// after the timer fires is dropped by the caller on its next call,
// which is acceptable here since every caller either discards
// late/mismatched replies by msg_id (condition_* response collection)
// or tolerates the small jitter (the status monitor's shutdown poll).
func RecvWithTimeout(sock zmq4.Socket, timeout time.Duration) (envelope.Envelope, error) {
	resultCh := make(chan recvResult, 1)
	go func() {
		env, err := Recv(sock)
		resultCh <- recvResult{env: env, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.env, res.err
	case <-timer.C:
		return envelope.Envelope{}, ErrTimeout
	}
}
