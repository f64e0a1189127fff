// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package flash manages the two firmware slots. Each slot is an image
// file plus a small state file; the state strings follow the usual
// dual-partition lifecycle: active, inprogress, updating, unused.
// All writes go to the standby slot; the active slot is never opened
// for writing.
package flash

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	fileutils "github.com/Stani56/Stanis-Clock-sub004/utils/file"
)

// SlotInfo describes one slot
type SlotInfo struct {
	Label     types.SlotLabel
	State     types.PartitionState
	Capacity  int64
	ImageSize int64
	Version   string
}

// Manager owns the slot files under one directory
type Manager struct {
	sync.Mutex
	log      *base.LogObject
	dir      string
	capacity int64
	current  types.SlotLabel
}

// NewManager opens the slot directory, creating missing slot files.
// current is the slot the running firmware booted from, as recorded in
// the boot record.
func NewManager(log *base.LogObject, dir string, capacity int64, current types.SlotLabel) (*Manager, error) {
	if !current.IsValid() {
		return nil, types.NewUpdateError(types.FlashError,
			"invalid current slot %q", current)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, types.WrapError(types.FlashError, err)
	}
	m := &Manager{log: log, dir: dir, capacity: capacity, current: current}
	for _, label := range []types.SlotLabel{types.SlotIMGA, types.SlotIMGB} {
		name := m.imagePath(label)
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if err := os.WriteFile(name, nil, 0644); err != nil {
				return nil, types.WrapError(types.FlashError, err)
			}
		}
	}
	// The running slot must be marked; a fresh directory gets the
	// default state assignment.
	if m.PartitionState(current) == types.PartitionStateUnused {
		if err := m.setPartitionState(current, types.PartitionStateActive); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) imagePath(label types.SlotLabel) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s.img", label))
}

func (m *Manager) statePath(label types.SlotLabel) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s.state", label))
}

// GetCurrentPartition returns the slot the running firmware booted from
func (m *Manager) GetCurrentPartition() types.SlotLabel {
	m.Lock()
	defer m.Unlock()
	return m.current
}

// GetOtherPartition returns the standby slot
func (m *Manager) GetOtherPartition() types.SlotLabel {
	m.Lock()
	defer m.Unlock()
	return m.current.Other()
}

// SlotCapacity returns the capacity of each slot in bytes
func (m *Manager) SlotCapacity() int64 {
	return m.capacity
}

// PartitionState returns the recorded state for the slot
func (m *Manager) PartitionState(label types.SlotLabel) types.PartitionState {
	b, err := os.ReadFile(m.statePath(label))
	if err != nil {
		return types.PartitionStateUnused
	}
	return types.PartitionState(strings.TrimSpace(string(b)))
}

func (m *Manager) setPartitionState(label types.SlotLabel, state types.PartitionState) error {
	m.log.Infof("flash: %s -> %s", label, state)
	err := fileutils.WriteRename(m.statePath(label), []byte(state))
	return types.WrapError(types.FlashError, err)
}

// SlotInfo reads the slot metadata, including the image version from
// its header when one is present
func (m *Manager) SlotInfo(label types.SlotLabel) (SlotInfo, error) {
	if !label.IsValid() {
		return SlotInfo{}, types.NewUpdateError(types.FlashError,
			"invalid slot %q", label)
	}
	info := SlotInfo{
		Label:    label,
		State:    m.PartitionState(label),
		Capacity: m.capacity,
	}
	fi, err := os.Stat(m.imagePath(label))
	if err != nil {
		return info, types.WrapError(types.FlashError, err)
	}
	info.ImageSize = fi.Size()
	if info.ImageSize >= types.ImageHeaderSize {
		f, err := os.Open(m.imagePath(label))
		if err != nil {
			return info, types.WrapError(types.FlashError, err)
		}
		defer f.Close()
		hdr := make([]byte, types.ImageHeaderSize)
		if _, err := io.ReadFull(f, hdr); err == nil {
			if h, err := types.ParseImageHeader(hdr); err == nil &&
				h.Magic == types.ImageMagic {
				info.Version = h.Version
			}
		}
	}
	return info, nil
}

// OpenStandbyWriter truncates the standby slot and returns a writer
// into it. Writing past the slot capacity fails with a FlashError.
// The slot is marked updating until the writer is closed.
func (m *Manager) OpenStandbyWriter() (io.WriteCloser, error) {
	m.Lock()
	target := m.current.Other()
	m.Unlock()

	state := m.PartitionState(target)
	if state == types.PartitionStateActive || state == types.PartitionStateInProgress {
		return nil, types.NewUpdateError(types.FlashError,
			"refusing to write %s in state %s", target, state)
	}
	if err := m.setPartitionState(target, types.PartitionStateUpdating); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(m.imagePath(target), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, types.WrapError(types.FlashError, err)
	}
	return &slotWriter{f: f, remaining: m.capacity, label: target}, nil
}

type slotWriter struct {
	f         *os.File
	remaining int64
	label     types.SlotLabel
}

func (w *slotWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > w.remaining {
		return 0, types.NewUpdateError(types.FlashError,
			"write exceeds %s capacity", w.label)
	}
	n, err := w.f.Write(p)
	w.remaining -= int64(n)
	return n, types.WrapError(types.FlashError, err)
}

func (w *slotWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return types.WrapError(types.FlashError, err)
	}
	return types.WrapError(types.FlashError, w.f.Close())
}

// Reader opens the slot image for read-back
func (m *Manager) Reader(label types.SlotLabel) (io.ReadCloser, error) {
	if !label.IsValid() {
		return nil, types.NewUpdateError(types.FlashError,
			"invalid slot %q", label)
	}
	f, err := os.Open(m.imagePath(label))
	if err != nil {
		return nil, types.WrapError(types.FlashError, err)
	}
	return f, nil
}

// Erase discards the standby slot content and marks it unused
func (m *Manager) Erase(label types.SlotLabel) error {
	m.Lock()
	current := m.current
	m.Unlock()
	if label == current {
		return types.NewUpdateError(types.FlashError,
			"refusing to erase active slot %s", label)
	}
	if err := os.Truncate(m.imagePath(label), 0); err != nil {
		return types.WrapError(types.FlashError, err)
	}
	return m.setPartitionState(label, types.PartitionStateUnused)
}

// SetOtherPartitionStateInProgress marks the standby slot as the one
// to boot next; called once the new image has been validated
func (m *Manager) SetOtherPartitionStateInProgress() error {
	m.Lock()
	target := m.current.Other()
	m.Unlock()
	if m.PartitionState(target) != types.PartitionStateUpdating {
		return types.NewUpdateError(types.FlashError,
			"%s is not in updating state", target)
	}
	return m.setPartitionState(target, types.PartitionStateInProgress)
}

// MarkCurrentPartitionStateActive marks the running slot active and
// the other unused; called when a trial image is committed
func (m *Manager) MarkCurrentPartitionStateActive() error {
	m.Lock()
	current := m.current
	m.Unlock()
	if err := m.setPartitionState(current, types.PartitionStateActive); err != nil {
		return err
	}
	return m.setPartitionState(current.Other(), types.PartitionStateUnused)
}

// ApplyRollback marks the running slot unused and the standby slot
// active, reflecting a boot record that reverted to the known good
// slot. The device keeps running the failed image until it reboots.
func (m *Manager) ApplyRollback() error {
	m.Lock()
	current := m.current
	m.Unlock()
	if err := m.setPartitionState(current, types.PartitionStateUnused); err != nil {
		return err
	}
	return m.setPartitionState(current.Other(), types.PartitionStateActive)
}

// MarkOtherPartitionStateUnused clears the standby slot state; called
// after a rollback so the failed image is not booted again
func (m *Manager) MarkOtherPartitionStateUnused() error {
	m.Lock()
	target := m.current.Other()
	m.Unlock()
	return m.setPartitionState(target, types.PartitionStateUnused)
}
