// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package bootrecord owns the durable boot record: which slot the
// device runs from, whether the running image is still on trial, and
// how many boot attempts the trial has consumed. Every mutation is
// persisted atomically before the caller proceeds, so a power cut
// between any two operations leaves a consistent record.
package bootrecord

import (
	"encoding/json"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/persistcache"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

// MaxBootAttempts is how many boots a trial image gets before the
// record rolls back to the last known good slot.
const MaxBootAttempts = 3

const recordKey = "bootrecord"

// Store loads and mutates the boot record
type Store struct {
	pc  persister
	log *base.LogObject
	rec types.BootRecord
}

// persister is what the store needs from persistcache
type persister interface {
	Get(key string) ([]byte, error)
	Put(key string, val []byte) (string, error)
}

// NewStore opens the record under the given directory. A missing
// record yields the factory default; a corrupt one is a StateError so
// the caller never silently runs with invented slot assignments.
func NewStore(log *base.LogObject, dir string) (*Store, error) {
	pc, err := persistcache.New(dir)
	if err != nil {
		return nil, types.WrapError(types.StateError, err)
	}
	return newStoreWith(log, pc)
}

func newStoreWith(log *base.LogObject, pc persister) (*Store, error) {
	s := &Store{pc: pc, log: log}
	val, err := pc.Get(recordKey)
	if err != nil || len(val) == 0 {
		log.Infof("bootrecord: no stored record, using factory default")
		s.rec = defaultRecord()
		return s, nil
	}
	if err := json.Unmarshal(val, &s.rec); err != nil {
		return nil, types.NewUpdateError(types.StateError,
			"boot record corrupt: %s", err)
	}
	if !s.rec.ActiveSlot.IsValid() || !s.rec.LastKnownGoodSlot.IsValid() {
		return nil, types.NewUpdateError(types.StateError,
			"boot record corrupt: active %q known good %q",
			s.rec.ActiveSlot, s.rec.LastKnownGoodSlot)
	}
	return s, nil
}

func defaultRecord() types.BootRecord {
	return types.BootRecord{
		ActiveSlot:        types.SlotIMGA,
		LastKnownGoodSlot: types.SlotIMGA,
	}
}

// Record returns a copy of the current record
func (s *Store) Record() types.BootRecord {
	return s.rec
}

func (s *Store) save() error {
	val, err := json.Marshal(s.rec)
	if err != nil {
		return types.WrapError(types.StateError, err)
	}
	if _, err := s.pc.Put(recordKey, val); err != nil {
		return types.WrapError(types.StateError, err)
	}
	return nil
}

// IncrementBootAttempt must be the first record mutation of every
// boot, before any health check or update activity. The attempt
// counter only advances while an image is on trial; the total boot
// counter always does.
func (s *Store) IncrementBootAttempt() (types.BootRecord, error) {
	if s.rec.PendingVerify {
		s.rec.BootAttemptCount++
	}
	s.rec.TotalBootCount++
	if err := s.save(); err != nil {
		return s.rec, err
	}
	s.log.Infof("bootrecord: boot %d, attempt %d of %d (pending %t)",
		s.rec.TotalBootCount, s.rec.BootAttemptCount, MaxBootAttempts,
		s.rec.PendingVerify)
	return s.rec, nil
}

// RollbackNeeded reports whether the trial has exhausted its boot
// attempts
func (s *Store) RollbackNeeded() bool {
	return s.rec.PendingVerify && s.rec.BootAttemptCount >= MaxBootAttempts
}

// BeginTrial points the record at the freshly flashed slot. The next
// boot runs from it with PendingVerify set; the previous active slot
// stays recorded as last known good until Commit.
func (s *Store) BeginTrial(slot types.SlotLabel) error {
	if !slot.IsValid() {
		return types.NewUpdateError(types.StateError,
			"begin trial: invalid slot %q", slot)
	}
	if slot == s.rec.ActiveSlot {
		return types.NewUpdateError(types.StateError,
			"begin trial: %s is the active slot", slot)
	}
	s.rec.LastKnownGoodSlot = s.rec.ActiveSlot
	s.rec.ActiveSlot = slot
	s.rec.PendingVerify = true
	s.rec.BootAttemptCount = 0
	return s.save()
}

// Commit marks the running image as known good and ends the trial
func (s *Store) Commit() error {
	if !s.rec.PendingVerify {
		return types.NewUpdateError(types.StateError,
			"commit: no trial in progress")
	}
	s.rec.LastKnownGoodSlot = s.rec.ActiveSlot
	s.rec.PendingVerify = false
	s.rec.BootAttemptCount = 0
	if err := s.save(); err != nil {
		return err
	}
	s.log.Infof("bootrecord: committed %s", s.rec.ActiveSlot)
	return nil
}

// Rollback reverts to the last known good slot and ends the trial.
// The returned record is what the next boot will see.
func (s *Store) Rollback() (types.BootRecord, error) {
	if !s.rec.PendingVerify {
		return s.rec, types.NewUpdateError(types.StateError,
			"rollback: no trial in progress")
	}
	from := s.rec.ActiveSlot
	s.rec.ActiveSlot = s.rec.LastKnownGoodSlot
	s.rec.PendingVerify = false
	s.rec.BootAttemptCount = 0
	if err := s.save(); err != nil {
		return s.rec, err
	}
	s.log.Warnf("bootrecord: rolled back %s -> %s", from, s.rec.ActiveSlot)
	return s.rec, nil
}

// SetPreferredSource persists which update source served us last, so
// the next check starts with the one that worked.
func (s *Store) SetPreferredSource(name string) error {
	if s.rec.PreferredSource == name {
		return nil
	}
	s.rec.PreferredSource = name
	return s.save()
}
