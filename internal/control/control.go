// Package control implements the operator-facing Control Client
// described in spec.md §4.5: a thin REQ-socket wrapper exposing
// getState/getPlatform/getStatus/selectPlatform/setState/setTransition,
// with every network error caught and surfaced as a string rather than
// propagated as an exception.
//
// Grounded on the teacher's core/peer.go Command()/FastRead() pair: a
// single blocking request/response call per operation, no retries, no
// connection pooling.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

// Requester is the REQ-socket seam a Client depends on, so tests can
// swap in an in-memory request/reply pair.
type Requester interface {
	Request(env envelope.Envelope, timeout time.Duration) (envelope.Envelope, error)
}

type zmqRequester struct{ sock zmq4.Socket }

func (z zmqRequester) Request(env envelope.Envelope, timeout time.Duration) (envelope.Envelope, error) {
	if err := zmqtransport.Send(z.sock, env); err != nil {
		return envelope.Envelope{}, err
	}
	return zmqtransport.RecvWithTimeout(z.sock, timeout)
}

// Client is the Control Client: one REQ socket, one request in flight
// at a time, a configurable receive timeout.
type Client struct {
	requester Requester
	timeout   time.Duration
}

// DialResult bundles a connected Client with the underlying socket so
// the caller can Close it when done; the Control Client itself has no
// notion of socket lifetime beyond Requester.
type DialResult struct {
	Client *Client
	sock   zmq4.Socket
}

// Close closes the underlying REQ socket. Sends have no grace period:
// a Client is expected to be used for a short request/response burst
// from a CLI invocation, never held open across a long-running process.
func (d *DialResult) Close() error { return d.sock.Close() }

// Dial connects a Control Client's REQ socket to a manager's front_rep
// for the given platform and host, with the given default RCVTIMEO.
func Dial(ctx context.Context, host string, platform int, timeout time.Duration) (*DialResult, error) {
	sock, err := zmqtransport.DialControlReq(ctx, host, envelope.FrontRepPort(platform))
	if err != nil {
		return nil, err
	}
	return &DialResult{
		Client: New(zmqRequester{sock: sock}, timeout),
		sock:   sock,
	}, nil
}

// New wraps an already-connected Requester with a default RCVTIMEO.
func New(requester Requester, timeout time.Duration) *Client {
	return &Client{requester: requester, timeout: timeout}
}

// SetTimeout changes this client's RCVTIMEO for subsequent requests.
func (c *Client) SetTimeout(timeout time.Duration) { c.timeout = timeout }

func (c *Client) request(env envelope.Envelope) (envelope.Envelope, error) {
	reply, err := c.requester.Request(env, c.timeout)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("control client request %q: %w", env.Header.Key, err)
	}
	return reply, nil
}

// GetState returns the manager's current state name (reply.header.key).
func (c *Client) GetState() (string, error) {
	reply, err := c.request(envelope.New("getstate", nil))
	if err != nil {
		return "", err
	}
	return reply.Header.Key, nil
}

// GetPlatform returns the manager's full cmstate body, the same wire
// reply as GetState but read for its body rather than its key.
func (c *Client) GetPlatform() (map[string]interface{}, error) {
	reply, err := c.request(envelope.New("getstate", nil))
	if err != nil {
		return nil, err
	}
	return reply.Body, nil
}

// GetStatus returns the manager's (state, transition) pair.
func (c *Client) GetStatus() (state, transition string, err error) {
	reply, err := c.request(envelope.New("getstatus", nil))
	if err != nil {
		return "", "", err
	}
	state, _ = reply.Body["state"].(string)
	transition, _ = reply.Body["transition"].(string)
	return state, transition, nil
}

// SelectPlatform updates peer active flags; only legal in state
// unallocated. Returns the manager's reply body.
func (c *Client) SelectPlatform(body map[string]interface{}) (map[string]interface{}, error) {
	reply, err := c.request(envelope.New("selectplatform", body))
	if err != nil {
		return nil, err
	}
	if reply.Header.Key == "error" {
		return nil, errorFromBody(reply)
	}
	return reply.Body, nil
}

// SetState asks the manager to walk toward target. It returns the
// error carried by an error reply (an unrecognized target) or a network
// error, and nil once the manager has acknowledged the request. The
// manager acknowledges before it walks, so an error from an individual
// step is published on front_pub and not returned here.
func (c *Client) SetState(target string) error {
	reply, err := c.request(envelope.New("setstate."+target, nil))
	if err != nil {
		return err
	}
	if reply.Header.Key == "error" {
		return errorFromBody(reply)
	}
	return nil
}

// SetTransition fires a single named transition directly.
func (c *Client) SetTransition(transition string) error {
	reply, err := c.request(envelope.New(transition, nil))
	if err != nil {
		return err
	}
	if reply.Header.Key == "error" {
		return errorFromBody(reply)
	}
	return nil
}

func errorFromBody(env envelope.Envelope) error {
	if msg, ok := env.Body["error"].(string); ok && msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s", env.Header.Key)
}
