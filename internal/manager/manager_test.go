package manager

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/fsm"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/testsupport"
)

type harness struct {
	mgr      *Manager
	front    *testsupport.ReqRep
	frontPub *testsupport.FanOut
	statusCh chan envelope.Envelope
	backPub  *testsupport.FanOut
	backPull *testsupport.PullQueue
	cancel   context.CancelFunc
	peers    []*testsupport.FakePeer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backPub := &testsupport.FanOut{}
	backPull := testsupport.NewPullQueue()
	front := testsupport.NewReqRep()
	frontPub := &testsupport.FanOut{}

	sockets := Sockets{BackPub: backPub, BackPull: backPull, FrontRep: front, FrontPub: frontPub}
	mgr := New(0, sockets, logging.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	statusCh := frontPub.Subscribe()

	go mgr.Run(ctx)

	h := &harness{
		mgr:      mgr,
		front:    front,
		frontPub: frontPub,
		statusCh: statusCh,
		backPub:  backPub,
		backPull: backPull,
		cancel:   cancel,
	}
	t.Cleanup(func() {
		cancel()
		for _, p := range h.peers {
			p.Stop()
		}
	})
	return h
}

func (h *harness) addPeer(id, level, host string, pid int) *testsupport.FakePeer {
	sub := h.backPub.Subscribe()
	peer := testsupport.NewFakePeer(id, level, host, pid, sub, h.backPull)
	h.peers = append(h.peers, peer)
	go peer.Run()
	return peer
}

func (h *harness) fireTransition(t *testing.T, name string) {
	t.Helper()
	reply := h.front.Request(envelope.New(name, nil))
	if reply.Header.Key != "ok" {
		t.Fatalf("fireTransition(%s): expected ok ack, got %+v", name, reply)
	}
}

func (h *harness) setState(t *testing.T, target string) envelope.Envelope {
	t.Helper()
	return h.front.Request(envelope.New("setstate."+target, nil))
}

func (h *harness) drainStatus(t *testing.T, n int, timeout time.Duration) []envelope.Envelope {
	t.Helper()
	var out []envelope.Envelope
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case env := <-h.statusCh:
			out = append(out, env)
		case <-deadline:
			t.Fatalf("timed out waiting for %d status envelopes, got %d: %+v", n, len(out), out)
		}
	}
	return out
}

func TestS1HappyPath(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)
	h.addPeer("B", "drp", "nodeB", 222)

	sequence := []string{
		fsm.TransPlat, fsm.TransAlloc, fsm.TransConnect, fsm.TransConfigure, fsm.TransEnable,
		fsm.TransDisable, fsm.TransUnconfigure, fsm.TransDisconnect, fsm.TransDealloc, fsm.TransReset,
	}
	for _, tr := range sequence {
		h.fireTransition(t, tr)
		// allow the transition's own goroutine-free, synchronous guard
		// to publish status before the next request is issued; Run()
		// processes one envelope at a time so this is already ordered,
		// we just need the status consumer to keep pace.
	}

	statuses := h.drainStatus(t, len(sequence), 5*time.Second)
	if len(statuses) != 10 {
		t.Fatalf("expected 10 status broadcasts, got %d", len(statuses))
	}
	for i, tr := range sequence {
		if statuses[i].Body["transition"] != tr {
			t.Fatalf("status[%d] transition = %v, want %s", i, statuses[i].Body["transition"], tr)
		}
	}

	if h.mgr.State() != fsm.StateReset {
		t.Fatalf("final state = %s, want reset", h.mgr.State())
	}
	if len(h.mgr.cmstate) != 0 || len(h.mgr.ids) != 0 {
		t.Fatalf("expected empty cmstate/ids after reset, got cmstate=%v ids=%v", h.mgr.cmstate, h.mgr.ids)
	}
}

func TestS2MissingPeerOnAlloc(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)
	peerB := h.addPeer("B", "drp", "nodeB", 222)
	peerB.Skip["alloc"] = true

	h.fireTransition(t, fsm.TransPlat)
	h.drainStatus(t, 1, 2*time.Second)

	if h.mgr.State() != fsm.StateUnallocated {
		t.Fatalf("after plat, state = %s, want unallocated", h.mgr.State())
	}

	h.fireTransition(t, fsm.TransAlloc)
	errEnv := h.drainStatus(t, 1, 2*time.Second)[0]
	if errEnv.Header.Key != "error" {
		t.Fatalf("expected error envelope, got %+v", errEnv)
	}
	want := "1 client did not respond to alloc"
	if errEnv.Body["error"] != want {
		t.Fatalf("error message = %v, want %q", errEnv.Body["error"], want)
	}
	if h.mgr.State() != fsm.StateUnallocated {
		t.Fatalf("state after failed alloc = %s, want unallocated", h.mgr.State())
	}
}

func TestS3SetStateRunningFromReset(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)

	reply := h.setState(t, "running")
	if reply.Header.Key != "ok" {
		t.Fatalf("setstate ack = %+v, want ok", reply)
	}

	statuses := h.drainStatus(t, 5, 5*time.Second)
	want := []string{fsm.TransPlat, fsm.TransAlloc, fsm.TransConnect, fsm.TransConfigure, fsm.TransEnable}
	for i, tr := range want {
		if statuses[i].Body["transition"] != tr {
			t.Fatalf("status[%d] = %v, want %s", i, statuses[i].Body["transition"], tr)
		}
	}
	if h.mgr.State() != fsm.StateRunning {
		t.Fatalf("final state = %s, want running", h.mgr.State())
	}
}

func TestS4PeerReportedConfigureError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	peerA := h.addPeer("A", "drp", "nodeA", 111)
	peerA.ErrInfo["configure"] = map[string]string{"node7": "FPGA link down"}

	for _, tr := range []string{fsm.TransPlat, fsm.TransAlloc, fsm.TransConnect} {
		h.fireTransition(t, tr)
	}
	h.drainStatus(t, 3, 3*time.Second)

	h.fireTransition(t, fsm.TransConfigure)
	errEnv := h.drainStatus(t, 1, 2*time.Second)[0]
	if errEnv.Header.Key != "error" {
		t.Fatalf("expected error envelope, got %+v", errEnv)
	}
	if errEnv.Body["error"] != "node7: FPGA link down" {
		t.Fatalf("error message = %v", errEnv.Body["error"])
	}
	if h.mgr.State() != fsm.StateConnected {
		t.Fatalf("state after failed configure = %s, want connected", h.mgr.State())
	}
}

func TestS5ResetFromRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)

	if reply := h.setState(t, "running"); reply.Header.Key != "ok" {
		t.Fatalf("setstate running ack = %+v", reply)
	}
	h.drainStatus(t, 5, 5*time.Second)

	if reply := h.setState(t, "reset"); reply.Header.Key != "ok" {
		t.Fatalf("setstate reset ack = %+v", reply)
	}
	// unallocated is not reset itself, so the walk's last step fires the
	// reset transition proper: disable, unconfigure, disconnect, dealloc,
	// reset.
	statuses := h.drainStatus(t, 5, 5*time.Second)
	want := []string{fsm.TransDisable, fsm.TransUnconfigure, fsm.TransDisconnect, fsm.TransDealloc, fsm.TransReset}
	for i, tr := range want {
		if statuses[i].Body["transition"] != tr {
			t.Fatalf("status[%d] = %v, want %s", i, statuses[i].Body["transition"], tr)
		}
	}
	if h.mgr.State() != fsm.StateReset {
		t.Fatalf("final state = %s, want reset", h.mgr.State())
	}
	if len(h.mgr.cmstate) != 0 {
		t.Fatalf("expected empty cmstate after reset, got %v", h.mgr.cmstate)
	}
}

func TestSelectPlatformOutsideUnallocatedIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	// state starts at reset, not unallocated.
	reply := h.front.Request(envelope.New("selectplatform", map[string]interface{}{}))
	if reply.Header.Key != "error" {
		t.Fatalf("expected error reply outside unallocated, got %+v", reply)
	}
}

func TestUnknownKeyProducesError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	reply := h.front.Request(envelope.New("not-a-real-key", nil))
	if reply.Header.Key != "error" {
		t.Fatalf("expected error reply for unknown key, got %+v", reply)
	}
}

func TestSetStateUnknownTargetProducesSingleError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	reply := h.setState(t, "bogus")
	if reply.Header.Key != "error" {
		t.Fatalf("expected error reply, got %+v", reply)
	}
	select {
	case env := <-h.statusCh:
		t.Fatalf("did not expect a status broadcast for an unrecognized setstate target, got %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestWaitForAnswersDiscardsMismatchedMsgID is S6's core correlation
// rule in isolation: a reply tagged with the msg_id of a second,
// not-yet-serviced attempt must not be mistaken for an answer to the
// first, even though both arrive on the same back_pull queue.
func TestWaitForAnswersDiscardsMismatchedMsgID(t *testing.T) {
	backPull := testsupport.NewPullQueue()
	m := New(0, Sockets{BackPull: backPull}, logging.NewDefaultLogger())

	firstMsgID := "0000000100-000000000"
	secondMsgID := "0000000100-000000001"
	senderA := "A"

	// Arrives first but carries the second attempt's msg_id.
	backPull.Push(envelope.Reply("plat", secondMsgID, &senderA,
		map[string]interface{}{"drp": map[string]interface{}{"proc_info": map[string]interface{}{}}}))
	// The legitimate answer to the first attempt.
	backPull.Push(envelope.Reply("plat", firstMsgID, &senderA,
		map[string]interface{}{"drp": map[string]interface{}{"proc_info": map[string]interface{}{}}}))

	answers := m.waitForAnswers(200*time.Millisecond, firstMsgID)
	if len(answers) != 1 {
		t.Fatalf("expected exactly one accepted answer, got %d: %+v", len(answers), answers)
	}
	if answers[0].Header.MsgID != firstMsgID {
		t.Fatalf("accepted answer msg_id = %s, want %s", answers[0].Header.MsgID, firstMsgID)
	}
}

// TestConfirmResponseIgnoresMismatchedMsgID is spec.md §8's boundary
// behavior: "a response with the wrong msg_id arriving during
// condition_connect is ignored and does not count toward the required
// set." confirmResponse is the function condition_connect (and the
// other condition_* guards) delegate to for this.
func TestConfirmResponseIgnoresMismatchedMsgID(t *testing.T) {
	backPull := testsupport.NewPullQueue()
	m := New(0, Sockets{BackPull: backPull}, logging.NewDefaultLogger())

	msgID := "0000000200-000000000"
	ids := map[string]bool{"A": true, "B": true}

	senderA := "A"
	// A answers, but with a stale msg_id -- must not fill A's slot.
	backPull.Push(envelope.Reply("ok", "0000000199-000000000", &senderA, nil))
	senderB := "B"
	backPull.Push(envelope.Reply("ok", msgID, &senderB, nil))

	missing, answers := m.confirmResponse(200*time.Millisecond, msgID, ids)
	if missing != 1 {
		t.Fatalf("missing = %d, want 1 (A's mismatched msg_id reply must not count)", missing)
	}
	if len(answers) != 1 || answers[0].Header.SenderID == nil || *answers[0].Header.SenderID != "B" {
		t.Fatalf("answers = %+v, want exactly B's reply", answers)
	}
}

// TestConditionConnectIgnoresWrongMsgIDBoundary exercises the same
// boundary behavior end to end through condition_connect: a stray
// confirmation left over on back_pull from before the broadcast, still
// carrying a stale msg_id, must not satisfy the connect transition's
// expected-responder set.
func TestConditionConnectIgnoresWrongMsgIDBoundary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	peerA := h.addPeer("A", "drp", "nodeA", 111)
	peerA.Skip["connect"] = true

	h.fireTransition(t, fsm.TransPlat)
	h.drainStatus(t, 1, 2*time.Second)
	h.fireTransition(t, fsm.TransAlloc)
	h.drainStatus(t, 1, 2*time.Second)

	senderA := "A"
	h.backPull.Push(envelope.Reply("ok", "0000000001-000000000", &senderA, nil))

	h.fireTransition(t, fsm.TransConnect)
	// connect waits 5000ms for the missing confirmation before failing.
	errEnv := h.drainStatus(t, 1, 7*time.Second)[0]
	if errEnv.Header.Key != "error" {
		t.Fatalf("expected error envelope, got %+v", errEnv)
	}
	want := "1 client did not respond to connect"
	if errEnv.Body["error"] != want {
		t.Fatalf("error message = %v, want %q", errEnv.Body["error"], want)
	}
	if h.mgr.State() != fsm.StateAllocated {
		t.Fatalf("state after failed connect = %s, want allocated", h.mgr.State())
	}
}

// TestPlatTwiceYieldsSameCmstate is spec.md §8's round-trip property:
// "plat twice in a row yields the same cmstate as plat once, given a
// stable peer set."
func TestPlatTwiceYieldsSameCmstate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)
	h.addPeer("B", "teb", "nodeB", 222)

	h.fireTransition(t, fsm.TransPlat)
	h.drainStatus(t, 1, 2*time.Second)
	first := h.mgr.cmstateBody()

	h.fireTransition(t, fsm.TransPlat)
	h.drainStatus(t, 1, 2*time.Second)
	second := h.mgr.cmstateBody()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cmstate changed across repeated plat:\nfirst=%+v\nsecond=%+v", first, second)
	}
}

// TestAllocDeallocAllocPreservesLevelIndexAssignments is spec.md §8's
// other round-trip property: "alloc followed by dealloc followed by
// alloc yields the same per-level *_id assignments if peer iteration
// order is preserved."
func TestAllocDeallocAllocPreservesLevelIndexAssignments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.addPeer("A", "drp", "nodeA", 111)
	h.addPeer("B", "drp", "nodeB", 222)

	h.fireTransition(t, fsm.TransPlat)
	h.drainStatus(t, 1, 2*time.Second)
	h.fireTransition(t, fsm.TransAlloc)
	h.drainStatus(t, 1, 2*time.Second)

	firstIndex := map[string]int{}
	for id, rec := range h.mgr.cmstate["drp"].byID {
		firstIndex[id] = rec.LevelIndex
	}

	h.fireTransition(t, fsm.TransDealloc)
	h.drainStatus(t, 1, 2*time.Second)
	h.fireTransition(t, fsm.TransAlloc)
	h.drainStatus(t, 1, 2*time.Second)

	secondIndex := map[string]int{}
	for id, rec := range h.mgr.cmstate["drp"].byID {
		secondIndex[id] = rec.LevelIndex
	}

	if !reflect.DeepEqual(firstIndex, secondIndex) {
		t.Fatalf("level_index assignments changed across alloc/dealloc/alloc: first=%v second=%v", firstIndex, secondIndex)
	}
}
