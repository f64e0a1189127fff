// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package pubsub

// Operation type of operation for a Change
type Operation byte

const (
	// Create a new object has been created
	Create Operation = iota
	// Modify an existing object has been modified
	Modify
	// Delete an object has been deleted
	Delete
)

// Change the message to be passed from a publication to a subscription
type Change struct {
	Operation Operation
	Key       string
	Value     []byte
}
