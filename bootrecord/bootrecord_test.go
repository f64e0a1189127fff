// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package bootrecord

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = base.NewSourceLogObject(logrus.StandardLogger(), "bootrecord_test", 0)

func TestFactoryDefault(t *testing.T) {
	s, err := NewStore(testLog, t.TempDir())
	require.NoError(t, err)

	rec := s.Record()
	assert.Equal(t, types.SlotIMGA, rec.ActiveSlot)
	assert.Equal(t, types.SlotIMGA, rec.LastKnownGoodSlot)
	assert.False(t, rec.PendingVerify)
	assert.Equal(t, uint32(0), rec.BootAttemptCount)
	assert.Equal(t, uint64(0), rec.TotalBootCount)
}

func TestIncrementPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(testLog, dir)
	require.NoError(t, err)

	rec, err := s.IncrementBootAttempt()
	require.NoError(t, err)
	// no trial in progress: only the total advances
	assert.Equal(t, uint32(0), rec.BootAttemptCount)
	assert.Equal(t, uint64(1), rec.TotalBootCount)

	// reopen, as the next boot would
	s2, err := NewStore(testLog, dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s2.Record().TotalBootCount)
}

func TestTrialAndCommit(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(testLog, dir)
	require.NoError(t, err)

	require.NoError(t, s.BeginTrial(types.SlotIMGB))
	rec := s.Record()
	assert.Equal(t, types.SlotIMGB, rec.ActiveSlot)
	assert.Equal(t, types.SlotIMGA, rec.LastKnownGoodSlot)
	assert.True(t, rec.PendingVerify)
	assert.Equal(t, uint32(0), rec.BootAttemptCount)

	// first boot of the trial image
	s2, err := NewStore(testLog, dir)
	require.NoError(t, err)
	rec, err = s2.IncrementBootAttempt()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.BootAttemptCount)
	assert.False(t, s2.RollbackNeeded())

	require.NoError(t, s2.Commit())
	rec = s2.Record()
	assert.False(t, rec.PendingVerify)
	assert.Equal(t, types.SlotIMGB, rec.LastKnownGoodSlot)
	assert.Equal(t, uint32(0), rec.BootAttemptCount)
}

func TestTrialRequiresStandbySlot(t *testing.T) {
	s, err := NewStore(testLog, t.TempDir())
	require.NoError(t, err)

	err = s.BeginTrial(types.SlotIMGA)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))

	err = s.BeginTrial(types.SlotLabel("IMGC"))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))
}

func TestRollbackAfterMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(testLog, dir)
	require.NoError(t, err)
	require.NoError(t, s.BeginTrial(types.SlotIMGB))

	// every boot that does not reach commit burns an attempt
	for boot := 1; boot <= MaxBootAttempts; boot++ {
		sb, err := NewStore(testLog, dir)
		require.NoError(t, err)
		rec, err := sb.IncrementBootAttempt()
		require.NoError(t, err)
		assert.Equal(t, uint32(boot), rec.BootAttemptCount)
		if boot < MaxBootAttempts {
			assert.False(t, sb.RollbackNeeded(), "boot %d", boot)
			continue
		}
		require.True(t, sb.RollbackNeeded())
		rec, err = sb.Rollback()
		require.NoError(t, err)
		assert.Equal(t, types.SlotIMGA, rec.ActiveSlot)
		assert.False(t, rec.PendingVerify)
		assert.Equal(t, uint32(0), rec.BootAttemptCount)
	}

	// the rollback outcome is durable
	s2, err := NewStore(testLog, dir)
	require.NoError(t, err)
	assert.Equal(t, types.SlotIMGA, s2.Record().ActiveSlot)
	assert.False(t, s2.RollbackNeeded())
}

func TestCommitWithoutTrial(t *testing.T) {
	s, err := NewStore(testLog, t.TempDir())
	require.NoError(t, err)

	err = s.Commit()
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))

	_, err = s.Rollback()
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))
}

func TestCorruptRecordIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootrecord"),
		[]byte("{not json"), 0644))

	_, err := NewStore(testLog, dir)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))
}

func TestCorruptSlotLabelIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootrecord"),
		[]byte(`{"ActiveSlot":"IMGX","LastKnownGoodSlot":"IMGA"}`), 0644))

	_, err := NewStore(testLog, dir)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.StateError))
}

func TestPreferredSourcePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(testLog, dir)
	require.NoError(t, err)
	require.NoError(t, s.SetPreferredSource("mirror"))

	s2, err := NewStore(testLog, dir)
	require.NoError(t, err)
	assert.Equal(t, "mirror", s2.Record().PreferredSource)
}
