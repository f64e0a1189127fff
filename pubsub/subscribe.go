// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package pubsub

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/Stani56/Stanis-Clock-sub004/base"
)

// Subscription to a single topic, with a local mirror of the content
type Subscription interface {
	// MsgChan - the channel on which change messages arrive
	MsgChan() <-chan Change
	// ProcessChange - process a single change message: update the
	// local mirror and invoke the matching handler
	ProcessChange(change Change)
	// Activate - start receiving changes
	Activate() error
	// Get - lookup an object by key
	Get(key string) (interface{}, error)
	// GetAll - get a copy of the objects
	GetAll() map[string]interface{}
}

// SubscriptionImpl in-memory implementation of Subscription
type SubscriptionImpl struct {
	C             chan Change
	CreateHandler SubHandler
	ModifyHandler SubHandler
	DeleteHandler SubHandler

	sync.Mutex
	agentName   string
	topic       string
	topicType   reflect.Type
	userCtx     interface{}
	km          map[string][]byte
	log         *base.LogObject
	myAgentName string
	activated   bool
	pending     *PublicationImpl
}

func (sub *SubscriptionImpl) nameString() string {
	return nameString(sub.agentName, sub.topic)
}

// MsgChan the channel on which change messages arrive
func (sub *SubscriptionImpl) MsgChan() <-chan Change {
	return sub.C
}

// Activate starts receiving changes
func (sub *SubscriptionImpl) Activate() error {
	if sub.activated {
		return fmt.Errorf("Activate(%s): already activated", sub.nameString())
	}
	if sub.pending == nil {
		return fmt.Errorf("Activate(%s): no publication", sub.nameString())
	}
	sub.pending.attach(sub)
	sub.pending = nil
	sub.activated = true
	return nil
}

// ProcessChange process a single change message
func (sub *SubscriptionImpl) ProcessChange(change Change) {
	name := sub.nameString()
	sub.log.Debugf("ProcessChange(%s) %d key %s", name,
		change.Operation, change.Key)
	switch change.Operation {
	case Delete:
		sub.Lock()
		_, existed := sub.km[change.Key]
		item := sub.decodeLocked(sub.km[change.Key])
		delete(sub.km, change.Key)
		sub.Unlock()
		if !existed {
			sub.log.Warnf("ProcessChange(%s): delete for unknown key %s",
				name, change.Key)
			return
		}
		if sub.DeleteHandler != nil {
			sub.DeleteHandler(sub.userCtx, change.Key, item)
		}
	case Create, Modify:
		sub.Lock()
		_, existed := sub.km[change.Key]
		sub.km[change.Key] = change.Value
		item := sub.decodeLocked(change.Value)
		sub.Unlock()
		if existed {
			if sub.ModifyHandler != nil {
				sub.ModifyHandler(sub.userCtx, change.Key, item)
			}
		} else {
			if sub.CreateHandler != nil {
				sub.CreateHandler(sub.userCtx, change.Key, item)
			}
		}
	}
}

// Get lookup an object by key in the local mirror
func (sub *SubscriptionImpl) Get(key string) (interface{}, error) {
	sub.Lock()
	defer sub.Unlock()
	if b, ok := sub.km[key]; ok {
		return sub.decodeLocked(b), nil
	}
	return nil, fmt.Errorf("Get(%s) unknown key %s", sub.nameString(), key)
}

// GetAll get a copy of the objects in the local mirror
func (sub *SubscriptionImpl) GetAll() map[string]interface{} {
	result := make(map[string]interface{})
	sub.Lock()
	defer sub.Unlock()
	for k, b := range sub.km {
		result[k] = sub.decodeLocked(b)
	}
	return result
}

func (sub *SubscriptionImpl) decodeLocked(b []byte) interface{} {
	if b == nil {
		return reflect.New(sub.topicType).Elem().Interface()
	}
	p := reflect.New(sub.topicType)
	if err := json.Unmarshal(b, p.Interface()); err != nil {
		sub.log.Fatalf("json Unmarshal in ProcessChange(%s): %s",
			sub.nameString(), err)
	}
	return p.Elem().Interface()
}
