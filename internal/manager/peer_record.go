package manager

// PeerRecord is the manager's authoritative record for one peer,
// created on `plat`, augmented on `alloc`, mutated by `selectplatform`,
// and destroyed on `reset`. Mirrors the reference implementation's
// per-peer dict (`proc_info`, `connect_info`, `active`, `<level>_id`)
// but as a typed struct rather than a loose map, per the "JSON-
// polymorphic bodies" design note: the wire shape stays a permissive
// map at the envelope boundary, the internal model does not.
type PeerRecord struct {
	Level       string                 `json:"-"`
	ID          string                 `json:"-"`
	ProcInfo    map[string]interface{} `json:"proc_info,omitempty"`
	ConnectInfo map[string]interface{} `json:"connect_info,omitempty"`
	Active      bool                   `json:"active"`
	// LevelIndex is the dense per-level index (drp_id/teb_id/meb_id in
	// the reference implementation) assigned during alloc. -1 means
	// "not assigned" (levels other than drp/teb/meb are not numbered).
	LevelIndex int `json:"level_index"`
}

// levelRegistry tracks the peer records for a single level, preserving
// insertion order so that dense index assignment during alloc is
// reproducible across repeated plat/alloc/dealloc/alloc cycles with a
// stable peer set (spec.md §8's round-trip property).
type levelRegistry struct {
	order []string
	byID  map[string]*PeerRecord
}

func newLevelRegistry() *levelRegistry {
	return &levelRegistry{byID: make(map[string]*PeerRecord)}
}

func (r *levelRegistry) put(id string, rec *PeerRecord) {
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = rec
}

func (r *levelRegistry) get(id string) (*PeerRecord, bool) {
	rec, ok := r.byID[id]
	return rec, ok
}

// orderedIDs returns peer ids in insertion order.
func (r *levelRegistry) orderedIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
