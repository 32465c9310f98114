package manager

import (
	"time"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

// waitForAnswers polls back_pull for up to deadline, returning every
// envelope whose msg_id matches msgID. Used by condition_plat, which
// does not require any particular responder set or count (spec.md
// §4.4). Envelopes with a mismatched msg_id are logged and discarded,
// never counted toward anything.
func (m *Manager) waitForAnswers(deadline time.Duration, msgID string) []envelope.Envelope {
	var out []envelope.Envelope
	start := time.Now()
	remaining := deadline

	for remaining > 0 {
		env, err := m.sockets.BackPull.RecvTimeout(remaining)
		if err != nil {
			if err == zmqtransport.ErrTimeout {
				break
			}
			m.log.Errorf("back_pull recv: %v", err)
			remaining = deadline - time.Since(start)
			continue
		}
		if env.Header.MsgID != msgID {
			m.log.Debugf("unexpected msg_id: got %s but expected %s", env.Header.MsgID, msgID)
		} else {
			out = append(out, env)
		}
		remaining = deadline - time.Since(start)
	}
	return out
}

// confirmResponse polls back_pull until every id in `ids` has answered
// with the expected msg_id, or deadline elapses. Returns the number of
// ids that never responded and the accepted envelopes. A response
// whose sender is not (or no longer) in the expected set is logged and
// ignored — including a response carrying the wrong msg_id, which is
// discarded before the sender-id check even runs (spec.md §8's
// "response with the wrong msg_id is ignored" boundary behavior).
func (m *Manager) confirmResponse(deadline time.Duration, msgID string, ids map[string]bool) (int, []envelope.Envelope) {
	remainingIDs := make(map[string]bool, len(ids))
	for id := range ids {
		remainingIDs[id] = true
	}

	var accepted []envelope.Envelope
	start := time.Now()
	remaining := deadline

	for len(remainingIDs) > 0 && remaining > 0 {
		env, err := m.sockets.BackPull.RecvTimeout(remaining)
		if err != nil {
			if err == zmqtransport.ErrTimeout {
				break
			}
			m.log.Errorf("back_pull recv: %v", err)
			remaining = deadline - time.Since(start)
			continue
		}

		if env.Header.MsgID != msgID {
			m.log.Debugf("unexpected msg_id: got %s but expected %s", env.Header.MsgID, msgID)
			remaining = deadline - time.Since(start)
			continue
		}

		sender := ""
		if env.Header.SenderID != nil {
			sender = *env.Header.SenderID
		}
		if remainingIDs[sender] {
			accepted = append(accepted, env)
			delete(remainingIDs, sender)
			m.log.Debugf("confirmResponse: removed %s from ids", sender)
		} else {
			m.log.Debugf("confirmResponse: %s not in ids", sender)
		}
		remaining = deadline - time.Since(start)
	}

	for id := range remainingIDs {
		m.log.Debugf("id %s did not respond", id)
	}
	return len(remainingIDs), accepted
}
