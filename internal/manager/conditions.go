package manager

import (
	"fmt"
	"strings"
	"time"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/fsm"
)

// publishedError marks an error whose text has already been broadcast
// on front_pub by the guard that produced it, so dispatch (for
// fireTransition's error) and handleTrigger don't publish it a second
// time.
type publishedError struct{ msg string }

func (e *publishedError) Error() string { return e.msg }

// guardFor returns the condition procedure for the named transition,
// matching spec.md §4.4's condition_* table. Each guard except dealloc's
// and disconnect's (which always succeed and send nothing) fans a
// command out over back_pub and, where applicable, waits on back_pull for
// confirmations within a hard deadline before deciding whether the
// transition may advance.
func (m *Manager) guardFor(name string) fsm.GuardFunc {
	switch name {
	case fsm.TransPlat:
		return m.conditionPlat
	case fsm.TransAlloc:
		return m.conditionAlloc
	case fsm.TransDealloc:
		return m.conditionDealloc
	case fsm.TransConnect:
		return m.conditionConnect
	case fsm.TransDisconnect:
		return m.conditionDisconnect
	case fsm.TransConfigure, fsm.TransUnconfigure, fsm.TransEnable, fsm.TransDisable,
		fsm.TransBeginRecord, fsm.TransEndRecord, fsm.TransConfigUpdate:
		return func() error { return m.conditionCommon(name) }
	case fsm.TransReset:
		return m.conditionReset
	default:
		return func() error { return fmt.Errorf("no condition registered for %s", name) }
	}
}

// conditionPlat clears cmstate/ids, broadcasts plat, and gathers
// whatever replies arrive within 1000ms. It never requires a minimum
// peer count (spec.md §9's open question, decided in SPEC_FULL.md §5:
// unchanged from the reference behavior) and always succeeds.
func (m *Manager) conditionPlat() error {
	m.cmstate = make(map[string]*levelRegistry)
	m.ids = make(map[string]bool)

	msg := envelope.New(fsm.TransPlat, nil)
	if err := m.sockets.BackPub.Send(msg); err != nil {
		m.log.Errorf("back_pub send plat: %v", err)
	}

	for _, answer := range m.waitForAnswers(1000*time.Millisecond, msg.Header.MsgID) {
		sender := ""
		if answer.Header.SenderID != nil {
			sender = *answer.Header.SenderID
		}
		if sender == "" {
			continue
		}
		for level, rawItem := range answer.Body {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			reg, ok := m.cmstate[level]
			if !ok {
				reg = newLevelRegistry()
				m.cmstate[level] = reg
			}
			rec := &PeerRecord{
				Level:      level,
				ID:         sender,
				Active:     true,
				LevelIndex: -1,
			}
			if pi, ok := item["proc_info"].(map[string]interface{}); ok {
				rec.ProcInfo = pi
			}
			reg.put(sender, rec)
			m.ids[sender] = true
		}
	}
	m.log.Debugf("cmstate after plat: %v", m.cmstate)
	return nil
}

// conditionAlloc requires every tracked id to answer alloc within
// 1000ms, merges each reply's per-level body into the corresponding
// peer record, then assigns a dense level index to drp/teb/meb peers
// in registry (insertion) order.
func (m *Manager) conditionAlloc() error {
	ids := copyIDs(m.ids)
	msg := envelope.New(fsm.TransAlloc, map[string]interface{}{"ids": idsList(ids)})
	if err := m.sockets.BackPub.Send(msg); err != nil {
		m.log.Errorf("back_pub send alloc: %v", err)
	}

	missing, answers := m.confirmResponse(1000*time.Millisecond, msg.Header.MsgID, ids)
	if missing > 0 {
		return fmt.Errorf("%d client did not respond to alloc", missing)
	}

	for _, answer := range answers {
		sender := ""
		if answer.Header.SenderID != nil {
			sender = *answer.Header.SenderID
		}
		for level, rawItem := range answer.Body {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			reg, ok := m.cmstate[level]
			if !ok {
				continue
			}
			rec, ok := reg.get(sender)
			if !ok {
				continue
			}
			if ci, ok := item["connect_info"].(map[string]interface{}); ok {
				rec.ConnectInfo = ci
			}
		}
	}

	for _, level := range []string{"drp", "teb", "meb"} {
		reg, ok := m.cmstate[level]
		if !ok {
			continue
		}
		for i, id := range reg.orderedIDs() {
			if rec, ok := reg.get(id); ok {
				rec.LevelIndex = i
			}
		}
	}

	m.log.Debugf("cmstate after alloc: %v", m.cmstate)
	return nil
}

// conditionDealloc is currently a guaranteed success, matching the
// reference implementation's TODO: no peer acknowledgment is required
// for deallocation yet.
func (m *Manager) conditionDealloc() error { return nil }

// conditionConnect broadcasts connect with the full cmstate as body and
// requires every tracked id to confirm within 5000ms.
func (m *Manager) conditionConnect() error {
	ids := copyIDs(m.ids)
	msg := envelope.New(fsm.TransConnect, m.cmstateBody())
	if err := m.sockets.BackPub.Send(msg); err != nil {
		m.log.Errorf("back_pub send connect: %v", err)
	}

	missing, _ := m.confirmResponse(levelWaitTimeout(fsm.TransConnect), msg.Header.MsgID, ids)
	if missing > 0 {
		return fmt.Errorf("%d client did not respond to connect", missing)
	}
	return nil
}

// conditionDisconnect is currently a guaranteed success, matching the
// reference implementation's TODO placeholder for teardown work.
func (m *Manager) conditionDisconnect() error { return nil }

// filterLevel returns the subset of ids that belong to any level whose
// name starts with prefix.
func (m *Manager) filterLevel(prefix string, ids map[string]bool) map[string]bool {
	matches := make(map[string]bool)
	for level, reg := range m.cmstate {
		if !strings.HasPrefix(level, prefix) {
			continue
		}
		for id := range ids {
			if _, ok := reg.get(id); ok {
				matches[id] = true
			}
		}
	}
	return matches
}

// conditionCommon broadcasts transition unconditionally, then restricts
// the expected-responder set to ids in any "drp*" level. If that
// restricted set is empty, the transition succeeds with nobody to wait
// on. Otherwise every peer-reported body.err_info entry fails the
// transition and is published as its own error envelope.
func (m *Manager) conditionCommon(transition string) error {
	ids := copyIDs(m.ids)
	msg := envelope.New(transition, nil)
	if err := m.sockets.BackPub.Send(msg); err != nil {
		m.log.Errorf("back_pub send %s: %v", transition, err)
	}

	drpIDs := m.filterLevel("drp", ids)
	if len(drpIDs) == 0 {
		m.log.Debugf("condition_common(%s): empty set of ids", transition)
		return nil
	}

	missing, answers := m.confirmResponse(levelWaitTimeout(transition), msg.Header.MsgID, drpIDs)
	if missing > 0 {
		return fmt.Errorf("%d client did not respond to %s", missing, transition)
	}

	failed := false
	var lastErr string
	for _, answer := range answers {
		errInfo, ok := answer.Body["err_info"].(map[string]interface{})
		if !ok {
			continue
		}
		for node, rawMsg := range errInfo {
			failed = true
			nodeMsg, _ := rawMsg.(string)
			message := fmt.Sprintf("%s: %s", node, nodeMsg)
			lastErr = message
			// Each node's failure is published individually here since
			// there may be several; the caller only sees the last one
			// and must not publish it again.
			m.publishError(message)
		}
	}
	if failed {
		return &publishedError{lastErr}
	}
	return nil
}

// conditionReset broadcasts reset with no wait; cmstate/ids are cleared
// by the engine's onEnter(reset) hook after this guard (trivially)
// succeeds.
func (m *Manager) conditionReset() error {
	msg := envelope.New(fsm.TransReset, nil)
	if err := m.sockets.BackPub.Send(msg); err != nil {
		m.log.Errorf("back_pub send reset: %v", err)
	}
	return nil
}

func copyIDs(ids map[string]bool) map[string]bool {
	out := make(map[string]bool, len(ids))
	for id := range ids {
		out[id] = true
	}
	return out
}

func idsList(ids map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}
