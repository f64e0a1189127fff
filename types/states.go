// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

// SlotLabel names one of the two firmware slots
type SlotLabel string

const (
	// SlotIMGA first firmware slot
	SlotIMGA SlotLabel = "IMGA"
	// SlotIMGB second firmware slot
	SlotIMGB SlotLabel = "IMGB"
)

// IsValid returns whether the label names a real slot
func (s SlotLabel) IsValid() bool {
	return s == SlotIMGA || s == SlotIMGB
}

// Other returns the opposite slot
func (s SlotLabel) Other() SlotLabel {
	if s == SlotIMGA {
		return SlotIMGB
	}
	return SlotIMGA
}

// PartitionState is the lifecycle state of a slot
type PartitionState string

const (
	// PartitionStateActive slot holds the firmware we boot from
	PartitionStateActive PartitionState = "active"
	// PartitionStateInProgress slot is booted but not yet committed
	PartitionStateInProgress PartitionState = "inprogress"
	// PartitionStateUpdating slot is being written with a new image
	PartitionStateUpdating PartitionState = "updating"
	// PartitionStateUnused slot holds no live firmware
	PartitionStateUnused PartitionState = "unused"
)

// UpdateState is the observable state of the update pipeline
type UpdateState uint8

// The update pipeline walks IDLE -> CHECKING -> DOWNLOADING ->
// VERIFYING -> FLASHING, then after the reboot PENDING_VERIFY ->
// COMMITTED or ROLLED_BACK. FAILED and CANCELLED are terminal for a
// session and return the pipeline to IDLE.
const (
	// UNKNOWN_STATE : zero value, never published
	UNKNOWN_STATE UpdateState = iota
	// IDLE : no update activity
	IDLE
	// CHECKING : fetching and evaluating the version manifest
	CHECKING
	// DOWNLOADING : streaming the image into the standby slot
	DOWNLOADING
	// VERIFYING : validating the image read back from the standby slot
	VERIFYING
	// FLASHING : committing slot state, past the point of cancellation
	FLASHING
	// PENDING_VERIFY : booted into a new image, not yet committed
	PENDING_VERIFY
	// COMMITTED : new image passed health checks and is now known good
	COMMITTED
	// ROLLED_BACK : boot attempts exhausted, reverted to known good
	ROLLED_BACK
	// FAILED : the session ended with an error
	FAILED
	// CANCELLED : the session was cancelled on request
	CANCELLED
)

// String returns the string name
func (state UpdateState) String() string {
	switch state {
	case UNKNOWN_STATE:
		return "UNKNOWN_STATE"
	case IDLE:
		return "IDLE"
	case CHECKING:
		return "CHECKING"
	case DOWNLOADING:
		return "DOWNLOADING"
	case VERIFYING:
		return "VERIFYING"
	case FLASHING:
		return "FLASHING"
	case PENDING_VERIFY:
		return "PENDING_VERIFY"
	case COMMITTED:
		return "COMMITTED"
	case ROLLED_BACK:
		return "ROLLED_BACK"
	case FAILED:
		return "FAILED"
	case CANCELLED:
		return "CANCELLED"
	default:
		return "Unknown state"
	}
}
