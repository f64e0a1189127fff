// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// BootRecord is the durable record consulted first thing at every
// boot. It is the single source of truth for which slot we run from
// and whether the current image is still on trial.
type BootRecord struct {
	ActiveSlot        SlotLabel
	PendingVerify     bool
	BootAttemptCount  uint32
	LastKnownGoodSlot SlotLabel
	PreferredSource   string
	TotalBootCount    uint64
}

// Key returns the pubsub key
func (r BootRecord) Key() string {
	return "global"
}

// VersionManifest describes the latest published firmware release
type VersionManifest struct {
	Version        string `json:"version"`
	ImageURL       string `json:"image_url"`
	ImageSize      uint64 `json:"image_size"`
	ImageSHA256    string `json:"image_sha256"`
	HardwareTarget string `json:"hardware_target"`
	BinaryHash     string `json:"binary_hash,omitempty"`
	ReleaseNotes   string `json:"release_notes,omitempty"`

	// SourceName records which update source served the manifest;
	// filled in by the fetcher, not part of the wire format.
	SourceName string `json:"-"`
}

// Key returns the pubsub key
func (m VersionManifest) Key() string {
	return m.Version
}

// UpdateStatus is the published state of the update pipeline
type UpdateStatus struct {
	SessionID      uuid.UUID
	State          UpdateState
	RunningVersion string
	TargetVersion  string
	ActiveSlot     SlotLabel
	StandbySlot    SlotLabel
	Progress       uint // percent, only meaningful while DOWNLOADING
	LastChecked    time.Time
	// ErrorAndTime carries the most recent stage failure
	ErrorAndTime
}

// Key returns the pubsub key
func (status UpdateStatus) Key() string {
	return "global"
}

// DownloadStatus is the published progress of an image transfer
type DownloadStatus struct {
	SessionID   uuid.UUID
	ImageURL    string
	TotalSize   uint64
	CurrentSize uint64
	Progress    uint // percent
	TargetSlot  SlotLabel
	ErrorAndTime
}

// Key returns the pubsub key
func (status DownloadStatus) Key() string {
	return "global"
}

// UpdateCommandOp is an operation requested of the update agent
type UpdateCommandOp string

const (
	// CommandCheck fetch the manifest and report whether an update exists
	CommandCheck UpdateCommandOp = "check"
	// CommandUpdate run the full update pipeline
	CommandUpdate UpdateCommandOp = "update"
	// CommandCancel cancel an in-flight update
	CommandCancel UpdateCommandOp = "cancel"
)

// UpdateCommand is published by a UI or shell to drive the agent
type UpdateCommand struct {
	Command   UpdateCommandOp
	RequestID uuid.UUID
}

// Key returns the pubsub key
func (cmd UpdateCommand) Key() string {
	return "global"
}

// HealthProbeResult is the outcome of one named probe
type HealthProbeResult struct {
	Name   string
	Passed bool
	Detail string
}

// HealthReport is the outcome of a full probe pass
type HealthReport struct {
	Results []HealthProbeResult
	Passed  bool
	RunTime time.Time
}

// Key returns the pubsub key
func (report HealthReport) Key() string {
	return "global"
}

// FailedProbes lists the names of the probes that did not pass
func (report HealthReport) FailedProbes() []string {
	var failed []string
	for _, r := range report.Results {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	return failed
}
