// Package manager implements the collection manager: the central
// coordinator that owns the peer registry, runs the state machine, fans
// transition commands out to peers and aggregates their confirmations,
// and publishes status.
//
// Grounded on the teacher's protocol.go Unity: a single actor with one
// request channel, dispatching by message key inside process()/run(),
// serializing all state changes through one goroutine — kept here as
// dispatch()/Run() reading one envelope at a time off front_rep. The
// response-collection algorithm (confirmResponse) is grounded on
// core/deliver.go's Commit/quorum-wait shape and core/peer.go's
// context-scoped poll loop, generalized from "wait for quorum" to
// "wait for an explicit id set with a hard deadline" per spec.md §4.4.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jabolina/go-collect/internal/configdb"
	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/fsm"
	"github.com/jabolina/go-collect/internal/logging"
)

// Manager is the collection manager coordinator actor. cmstate and ids
// are owned exclusively by the goroutine running Run; spec.md §5 notes
// no locking is required because only that actor reads or mutates them.
type Manager struct {
	platform int
	sockets  Sockets
	engine   *fsm.Engine
	log      logging.Logger
	configDB configdb.Client
	runID    string

	cmstate map[string]*levelRegistry
	ids     map[string]bool
}

// New builds a Manager at state reset with empty cmstate/ids.
func New(platform int, sockets Sockets, log logging.Logger) *Manager {
	return &Manager{
		platform: platform,
		sockets:  sockets,
		engine:   fsm.New(),
		log:      log,
		configDB: configdb.Noop{},
		runID:    uuid.NewString(),
		cmstate:  make(map[string]*levelRegistry),
		ids:      make(map[string]bool),
	}
}

// State returns the current FSM state.
func (m *Manager) State() fsm.State { return m.engine.State() }

// LastTransition returns the most recently fired transition name.
func (m *Manager) LastTransition() string { return m.engine.LastTransition() }

// Run executes the main request loop until ctx is cancelled. It reads
// one envelope from front_rep at a time, so two requests can never be
// in flight concurrently: the second sits in the REP socket's queue
// until this loop services the first (spec.md §4.3's serialization
// invariant).
func (m *Manager) Run(ctx context.Context) error {
	m.log.Infof("collection manager starting: platform=%d run_id=%s state=%s", m.platform, m.runID, m.State())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("collection manager shutting down")
			return nil
		default:
		}

		req, err := m.sockets.FrontRep.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Errorf("front_rep recv: %v", err)
			continue
		}
		m.dispatch(req)
	}
}

func (m *Manager) dispatch(req envelope.Envelope) {
	key := req.Header.Key
	switch {
	case len(key) > len("setstate.") && key[:len("setstate.")] == "setstate.":
		m.handleSetState(key[len("setstate."):])
	case isTransitionName(key):
		// Ack immediately; the transition itself runs after the reply
		// is already on the wire, matching spec.md §4.4's "send ok
		// immediately, then fire the transition" rule.
		if err := m.sockets.FrontRep.Send(envelope.New("ok", nil)); err != nil {
			m.log.Errorf("front_rep send ok: %v", err)
		}
		if err := m.fireTransition(key); err != nil {
			m.publishIfUnpublished(err)
		}
	case key == "getstate":
		m.reply(m.handleGetState())
	case key == "getstatus":
		m.reply(m.handleGetStatus())
	case key == "selectplatform":
		m.reply(m.handleSelectPlatform(req.Body))
	default:
		m.reply(envelope.New("error", nil))
	}
}

func (m *Manager) reply(env envelope.Envelope) {
	if err := m.sockets.FrontRep.Send(env); err != nil {
		m.log.Errorf("front_rep send: %v", err)
	}
}

func isTransitionName(key string) bool {
	switch key {
	case fsm.TransPlat, fsm.TransAlloc, fsm.TransDealloc, fsm.TransConnect, fsm.TransDisconnect,
		fsm.TransConfigure, fsm.TransUnconfigure, fsm.TransEnable, fsm.TransDisable,
		fsm.TransBeginRecord, fsm.TransEndRecord, fsm.TransConfigUpdate, fsm.TransReset:
		return true
	default:
		return false
	}
}

// AutoFire runs a single named transition directly, bypassing
// front_rep. Meant only for the -a/-autoconnect startup sequence,
// before Run begins serving requests.
func (m *Manager) AutoFire(name string) error {
	return m.fireTransition(name)
}

// fireTransition runs a single named transition through the FSM,
// publishing status on success. The error returned, if any, is meant
// for front_pub (the request has already been ack'd), not for the
// original requester.
func (m *Manager) fireTransition(name string) error {
	_, err := m.engine.Fire(name, m.guardFor(name), m.onEnter)
	if err != nil {
		return err
	}
	m.reportStatus()
	return nil
}

// handleTrigger mirrors the reference implementation's
// handle_trigger(): fire a transition for one step of the setState
// walk. On success it publishes status and returns the new state with
// an empty message; on failure it publishes the error (unless the guard
// already did) and returns the unchanged state with the error text.
func (m *Manager) handleTrigger(name string) (fsm.State, string) {
	_, err := m.engine.Fire(name, m.guardFor(name), m.onEnter)
	if err != nil {
		m.publishIfUnpublished(err)
		return m.State(), err.Error()
	}
	m.reportStatus()
	return m.State(), ""
}

func (m *Manager) onEnter(state fsm.State) {
	if state == fsm.StateReset {
		m.cmstate = make(map[string]*levelRegistry)
		m.ids = make(map[string]bool)
	}
}

func (m *Manager) handleSetState(target string) {
	if !fsm.State(target).Valid() {
		msg := fmt.Sprintf("state '%s' not recognized", target)
		m.log.Error(msg)
		m.reply(envelope.New("error", map[string]interface{}{"error": msg}))
		return
	}

	m.reply(envelope.New("ok", nil))

	for m.State() != fsm.State(target) {
		next, err := m.engine.NextTransition(m.State(), fsm.State(target))
		if err != nil {
			m.publishError(err.Error())
			return
		}
		if _, errMsg := m.handleTrigger(next); errMsg != "" {
			return
		}
	}
}

func (m *Manager) handleGetState() envelope.Envelope {
	return envelope.New(string(m.State()), m.cmstateBody())
}

func (m *Manager) handleGetStatus() envelope.Envelope {
	return m.statusMsg()
}

func (m *Manager) statusMsg() envelope.Envelope {
	return envelope.New("status", map[string]interface{}{
		"state":      string(m.State()),
		"transition": m.LastTransition(),
	})
}

func (m *Manager) reportStatus() {
	m.log.Debugf("status: state=%s transition=%s", m.State(), m.LastTransition())
	if err := m.sockets.FrontPub.Send(m.statusMsg()); err != nil {
		m.log.Errorf("front_pub send status: %v", err)
	}
}

func (m *Manager) publishError(message string) {
	m.log.Error(message)
	if err := m.sockets.FrontPub.Send(envelope.New("error", map[string]interface{}{"error": message})); err != nil {
		m.log.Errorf("front_pub send error: %v", err)
	}
}

// publishIfUnpublished publishes err unless the guard that produced it
// already broadcast its own message (conditionCommon's per-node
// err_info case, which can emit more than one error for a single
// failure).
func (m *Manager) publishIfUnpublished(err error) {
	if _, ok := err.(*publishedError); ok {
		return
	}
	m.publishError(err.Error())
}

func (m *Manager) handleSelectPlatform(body map[string]interface{}) envelope.Envelope {
	if m.State() != fsm.StateUnallocated {
		msg := "selectPlatform only permitted in unallocated state"
		m.publishError(msg)
		return envelope.New("error", map[string]interface{}{"error": msg})
	}

	for level, rawLevelBody := range body {
		levelBody, ok := rawLevelBody.(map[string]interface{})
		if !ok {
			continue
		}
		reg, ok := m.cmstate[level]
		if !ok {
			continue
		}
		for id, rawEntry := range levelBody {
			entry, ok := rawEntry.(map[string]interface{})
			if !ok {
				continue
			}
			rec, ok := reg.get(id)
			if !ok {
				continue
			}
			if active, ok := entry["active"].(bool); ok {
				rec.Active = active
			}
		}
	}
	return envelope.New("ok", nil)
}

// cmstateBody renders cmstate as the nested map the wire format uses:
// level -> id -> record fields.
func (m *Manager) cmstateBody() map[string]interface{} {
	out := make(map[string]interface{}, len(m.cmstate))
	for level, reg := range m.cmstate {
		levelOut := make(map[string]interface{}, len(reg.byID))
		for id, rec := range reg.byID {
			levelOut[id] = rec
		}
		out[level] = levelOut
	}
	return out
}

// levelWaitTimeout returns the guard's deadline for a given transition
// name, per spec.md §4.4.
func levelWaitTimeout(name string) time.Duration {
	switch name {
	case fsm.TransConnect:
		return 5000 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}
