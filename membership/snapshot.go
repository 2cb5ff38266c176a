// Package membership maintains the active validator-set snapshot and
// blacklist view (spec §4.8, §9 "Global state"), grounded on the ancestor's
// consensus/dpos/snapshot.go Snapshot type: copy-before-mutate discipline
// (snapshots are shared, read-mostly, across concurrently running RBC/BBA
// instances), a deterministic sort order, and a map for O(1) membership
// checks alongside the ordered slice used for signer-bitmap indexing.
package membership

import (
	"fmt"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
)

// entry is one validator's membership record within a Snapshot.
type entry struct {
	id           fcommon.ValidatorID
	effectiveDay model.DayNumber // join epoch, the primary sort key
}

// Snapshot is the validator set active as of a given day, frozen at epoch
// start and passed by handle to every per-instance task (spec §9). Ordering
// is join-epoch ascending, ties broken by ascending ValidatorId byte order —
// the Open Question resolution recorded in DESIGN.md — which is also the
// layout every QuorumCertificate signer bitmap indexes into.
type Snapshot struct {
	Day           model.DayNumber
	Validators    []fcommon.ValidatorID // ordered per the rule above
	index         map[fcommon.ValidatorID]int
	effectiveDays map[fcommon.ValidatorID]model.DayNumber
	blacklist     map[fcommon.ValidatorID]model.BlacklistEntry
}

// NewSnapshot builds a Snapshot from a set of (validator, effective_day)
// entries, applying the canonical sort.
func NewSnapshot(day model.DayNumber, members map[fcommon.ValidatorID]model.DayNumber) *Snapshot {
	entries := make([]entry, 0, len(members))
	for id, eff := range members {
		entries = append(entries, entry{id: id, effectiveDay: eff})
	}
	sortEntries(entries)

	validators := make([]fcommon.ValidatorID, len(entries))
	index := make(map[fcommon.ValidatorID]int, len(entries))
	effectiveDays := make(map[fcommon.ValidatorID]model.DayNumber, len(entries))
	for i, e := range entries {
		validators[i] = e.id
		index[e.id] = i
		effectiveDays[e.id] = e.effectiveDay
	}
	return &Snapshot{
		Day:           day,
		Validators:    validators,
		index:         index,
		effectiveDays: effectiveDays,
		blacklist:     make(map[fcommon.ValidatorID]model.BlacklistEntry),
	}
}

func sortEntries(entries []entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b entry) bool {
	if a.effectiveDay != b.effectiveDay {
		return a.effectiveDay < b.effectiveDay
	}
	for i := range a.id {
		if a.id[i] != b.id[i] {
			return a.id[i] < b.id[i]
		}
	}
	return false
}

// N returns the active validator-set size.
func (s *Snapshot) N() int { return len(s.Validators) }

// IndexOf returns the signer-bitmap index of id, or -1 if it is not active.
func (s *Snapshot) IndexOf(id fcommon.ValidatorID) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

// IsActive reports whether id is currently in the active set (i.e. not
// blacklisted as of s.Day).
func (s *Snapshot) IsActive(id fcommon.ValidatorID) bool {
	_, inSet := s.index[id]
	if !inSet {
		return false
	}
	if bl, blacklisted := s.blacklist[id]; blacklisted && !bl.Revoked && bl.EffectiveDay <= s.Day {
		return false
	}
	return true
}

// copy returns a deep copy, following the ancestor's copy-before-mutate
// discipline for snapshots shared across concurrently running instances.
func (s *Snapshot) copy() *Snapshot {
	cpy := &Snapshot{
		Day:           s.Day,
		Validators:    append([]fcommon.ValidatorID(nil), s.Validators...),
		index:         make(map[fcommon.ValidatorID]int, len(s.index)),
		effectiveDays: make(map[fcommon.ValidatorID]model.DayNumber, len(s.effectiveDays)),
		blacklist:     make(map[fcommon.ValidatorID]model.BlacklistEntry, len(s.blacklist)),
	}
	for k, v := range s.index {
		cpy.index[k] = v
	}
	for k, v := range s.effectiveDays {
		cpy.effectiveDays[k] = v
	}
	for k, v := range s.blacklist {
		cpy.blacklist[k] = v
	}
	return cpy
}

// ApplyMembershipChange returns a new snapshot reflecting change (spec
// §4.8). Changes are never applied in place. change.EffectiveDay must be at
// least atDay+2 and is kept as the joiner's sort key, but it does not delay
// the change: the returned snapshot already includes a joiner, or already
// omits a leaver, for every day.
func (s *Snapshot) ApplyMembershipChange(change model.MembershipChange, atDay model.DayNumber) (*Snapshot, error) {
	if change.EffectiveDay < atDay+2 {
		return nil, fmt.Errorf("membership: effective_day %d must be >= current+2 (%d)", change.EffectiveDay, atDay+2)
	}
	cpy := s.copy()
	switch change.Kind {
	case model.MembershipJoin:
		if _, exists := cpy.index[change.ValidatorID]; exists {
			return nil, fmt.Errorf("membership: validator %s already active", change.ValidatorID.Hex())
		}
		members := cpy.toMemberMap()
		members[change.ValidatorID] = change.EffectiveDay
		return NewSnapshot(cpy.Day, members).withBlacklist(cpy.blacklist), nil
	case model.MembershipLeave:
		members := cpy.toMemberMap()
		delete(members, change.ValidatorID)
		return NewSnapshot(cpy.Day, members).withBlacklist(cpy.blacklist), nil
	default:
		return nil, fmt.Errorf("membership: unknown change kind %d", change.Kind)
	}
}

// ApplyBlacklistEntry records a canonical blacklist entry, excluding its
// validator from the active set starting at entry.EffectiveDay (spec
// §4.10). The validator remains seen-message-filtered but is no longer
// counted toward any threshold once s.Day >= entry.EffectiveDay.
func (s *Snapshot) ApplyBlacklistEntry(e model.BlacklistEntry) *Snapshot {
	cpy := s.copy()
	cpy.blacklist[e.ValidatorID] = e
	return cpy
}

// ActiveValidators returns the subset of Validators not currently
// blacklisted, in signer-bitmap order.
func (s *Snapshot) ActiveValidators() []fcommon.ValidatorID {
	out := make([]fcommon.ValidatorID, 0, len(s.Validators))
	for _, v := range s.Validators {
		if s.IsActive(v) {
			out = append(out, v)
		}
	}
	return out
}

// AdvanceDay returns a copy of the snapshot with Day advanced, re-evaluating
// which blacklist entries are now in effect. No validator membership
// changes; only IsActive's effective view shifts.
func (s *Snapshot) AdvanceDay(day model.DayNumber) *Snapshot {
	cpy := s.copy()
	cpy.Day = day
	return cpy
}

func (s *Snapshot) toMemberMap() map[fcommon.ValidatorID]model.DayNumber {
	m := make(map[fcommon.ValidatorID]model.DayNumber, len(s.Validators))
	for _, v := range s.Validators {
		m[v] = s.effectiveDays[v]
	}
	return m
}

func (s *Snapshot) withBlacklist(bl map[fcommon.ValidatorID]model.BlacklistEntry) *Snapshot {
	s.blacklist = bl
	return s
}
