// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package pubsub

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/google/go-cmp/cmp"
)

// Publication to publish key-value pairs of a single topic
type Publication interface {
	// Publish an object
	Publish(key string, item interface{}) error
	// Unpublish - delete / unpublish an object
	Unpublish(key string) error
	// Get - lookup an object
	Get(key string) (interface{}, error)
	// GetAll - get a copy of the objects
	GetAll() map[string]interface{}
}

// PublicationImpl in-memory implementation of Publication
type PublicationImpl struct {
	sync.Mutex
	agentName string
	topic     string
	topicType reflect.Type
	km        map[string][]byte
	subs      []*SubscriptionImpl
	log       *base.LogObject
}

func (pub *PublicationImpl) nameString() string {
	return nameString(pub.agentName, pub.topic)
}

func (pub *PublicationImpl) attach(sub *SubscriptionImpl) {
	pub.Lock()
	defer pub.Unlock()
	pub.subs = append(pub.subs, sub)
	// Catch the subscriber up with current content
	for key, val := range pub.km {
		sub.C <- Change{Operation: Create, Key: key, Value: val}
	}
}

// Publish publish a key-value pair
func (pub *PublicationImpl) Publish(key string, item interface{}) error {
	topic := TypeToName(item)
	name := pub.nameString()
	if topic != pub.topic {
		return fmt.Errorf("Publish(%s): item is wrong topic %s", name, topic)
	}
	val := reflect.ValueOf(item)
	if val.Kind() == reflect.Ptr {
		pub.log.Fatalf("Publish got a pointer for %s", name)
	}
	b, err := json.Marshal(item)
	if err != nil {
		pub.log.Fatalf("json Marshal in Publish(%s): %s", name, err)
	}

	pub.Lock()
	defer pub.Unlock()
	op := Create
	if old, ok := pub.km[key]; ok {
		oldItem := pub.decodeLocked(old)
		if cmp.Equal(oldItem, item) {
			pub.log.Debugf("Publish(%s/%s) unchanged", name, key)
			return nil
		}
		pub.log.Debugf("Publish(%s/%s) replacing due to diff %s",
			name, key, cmp.Diff(oldItem, item))
		op = Modify
	} else {
		pub.log.Debugf("Publish(%s/%s) adding %+v", name, key, item)
	}
	pub.km[key] = b
	for _, sub := range pub.subs {
		sub.C <- Change{Operation: op, Key: key, Value: b}
	}
	return nil
}

// Unpublish delete a key from the publication
func (pub *PublicationImpl) Unpublish(key string) error {
	name := pub.nameString()
	pub.Lock()
	defer pub.Unlock()
	if _, ok := pub.km[key]; !ok {
		return fmt.Errorf("Unpublish(%s): key %s does not exist", name, key)
	}
	pub.log.Debugf("Unpublish(%s/%s)", name, key)
	delete(pub.km, key)
	for _, sub := range pub.subs {
		sub.C <- Change{Operation: Delete, Key: key}
	}
	return nil
}

// Get lookup an object
func (pub *PublicationImpl) Get(key string) (interface{}, error) {
	pub.Lock()
	defer pub.Unlock()
	if b, ok := pub.km[key]; ok {
		return pub.decodeLocked(b), nil
	}
	name := pub.nameString()
	return nil, fmt.Errorf("Get(%s) unknown key %s", name, key)
}

// GetAll get a copy of the objects
func (pub *PublicationImpl) GetAll() map[string]interface{} {
	result := make(map[string]interface{})
	pub.Lock()
	defer pub.Unlock()
	for k, b := range pub.km {
		result[k] = pub.decodeLocked(b)
	}
	return result
}

// decodeLocked returns a fresh copy of the stored item; the stored
// form is JSON so callers can never alias the authoritative copy.
func (pub *PublicationImpl) decodeLocked(b []byte) interface{} {
	p := reflect.New(pub.topicType)
	if err := json.Unmarshal(b, p.Interface()); err != nil {
		pub.log.Fatalf("json Unmarshal in Get(%s): %s",
			pub.nameString(), err)
	}
	return p.Elem().Interface()
}
