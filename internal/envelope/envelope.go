// Package envelope defines the wire schema shared by every actor on the
// control plane — the collection manager, the peer client stub, the
// control client and the status monitor — plus the fixed port layout
// derived from a platform number.
package envelope

import (
	"fmt"
	"time"
)

// PortBase is the first of the four ports assigned to platform 0.
const PortBase = 29980

// PosixTimeAtEPICSEpoch is the offset, in seconds, subtracted from the
// wall-clock UTC second count when formatting a message id.
const PosixTimeAtEPICSEpoch = 631152000

// Header carries routing and correlation metadata for an Envelope.
// SenderID is nil for operator-originated requests and populated by
// peers when replying to a broadcast.
type Header struct {
	Key      string  `json:"key"`
	MsgID    string  `json:"msg_id"`
	SenderID *string `json:"sender_id"`
}

// Envelope is the `{header, body}` JSON object carried over every socket
// in the control plane. Body is intentionally a permissive map rather
// than a fixed struct: its shape varies by Header.Key, and schema
// validation of peer-supplied payloads is explicitly out of scope
// (spec Non-goals).
type Envelope struct {
	Header Header                 `json:"header"`
	Body   map[string]interface{} `json:"body"`
}

// New builds an Envelope with a freshly minted msg_id and a nil sender.
func New(key string, body map[string]interface{}) Envelope {
	return Reply(key, NewMsgID(), nil, body)
}

// Reply builds an Envelope that echoes msgID and carries senderID,
// the shape a peer or manager uses when responding to a specific request.
func Reply(key, msgID string, senderID *string, body map[string]interface{}) Envelope {
	if body == nil {
		body = map[string]interface{}{}
	}
	return Envelope{
		Header: Header{Key: key, MsgID: msgID, SenderID: senderID},
		Body:   body,
	}
}

// NewMsgID formats the current wall-clock time as a monotonically
// increasing `SSSSSSSSSS-NNNNNNNNN` string: seconds since the EPICS
// epoch offset, and nanoseconds truncated to microsecond resolution
// (matching the reference implementation's microsecond-granularity
// timestamp).
func NewMsgID() string {
	now := time.Now().UTC()
	sec := now.Unix() - PosixTimeAtEPICSEpoch
	nsec := (now.Nanosecond() / 1000) * 1000
	return FormatMsgID(sec, nsec)
}

// FormatMsgID renders seconds/nanoseconds with the fixed width the
// reference implementation uses, so message ids sort lexically in
// arrival order.
func FormatMsgID(sec int64, nsec int) string {
	return fmt.Sprintf("%010d-%09d", sec, nsec)
}

// BackPullPort is where peers push transition confirmations to the manager.
func BackPullPort(platform int) int { return PortBase + platform }

// BackPubPort is where the manager broadcasts transition commands to peers.
func BackPubPort(platform int) int { return PortBase + platform + 10 }

// FrontRepPort is where operators send requests to the manager.
func FrontRepPort(platform int) int { return PortBase + platform + 20 }

// FrontPubPort is where the manager publishes status/error envelopes.
func FrontPubPort(platform int) int { return PortBase + platform + 30 }

// Addr formats a bind or connect address for the given host and port.
func Addr(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// StringPtr is a small convenience used when constructing a Header with
// a known sender id.
func StringPtr(s string) *string { return &s }
