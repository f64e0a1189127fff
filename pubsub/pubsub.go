// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Provide for a pubsub mechanism for config and status objects shared
// between the agents running in this process. Everything is in-memory;
// the publisher keeps the authoritative copy and subscribers get a
// change stream plus a local mirror.

package pubsub

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/base"
)

// SubHandler is a generic handler to handle create, modify and delete
type SubHandler func(ctx interface{}, key string, status interface{})

// SubscriptionOptions options to pass when creating a Subscription
type SubscriptionOptions struct {
	CreateHandler SubHandler
	ModifyHandler SubHandler
	DeleteHandler SubHandler
	WarningTime   time.Duration
	ErrorTime     time.Duration
	AgentName     string
	TopicImpl     interface{}
	Activate      bool
	Ctx           interface{}
	MyAgentName   string // For logging
}

// PublicationOptions defines all the possible options a new publication may have
type PublicationOptions struct {
	AgentName string
	TopicType interface{}
}

// PubSub is a system for publishing and subscribing to messages.
// It manages the creation of Publication and Subscription, which handle
// the actual in-memory structures and change propagation.
// Should not be called directly. Instead use the `New()` function.
type PubSub struct {
	sync.Mutex
	log         *base.LogObject
	pubs        map[string]*PublicationImpl
	watchdogDir string
	lastTouch   map[string]time.Time
}

// New create a new `PubSub`
func New(logObj *base.LogObject) *PubSub {
	return &PubSub{
		log:         logObj,
		pubs:        make(map[string]*PublicationImpl),
		watchdogDir: "/run",
		lastTouch:   make(map[string]time.Time),
	}
}

// TypeToName given a particular object, get the desired name for it
func TypeToName(something interface{}) string {
	t := reflect.TypeOf(something)
	out := strings.Split(t.String(), ".")
	return out[len(out)-1]
}

func nameString(agentName, topic string) string {
	if agentName == "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", agentName, topic)
}

// NewPublication creates a new Publication with given options
func (p *PubSub) NewPublication(options PublicationOptions) (Publication, error) {
	if options.TopicType == nil {
		return nil, fmt.Errorf("cannot create a publication with a nil "+
			"topic type. options: %+v", options)
	}
	topic := TypeToName(options.TopicType)
	name := nameString(options.AgentName, topic)

	p.Lock()
	defer p.Unlock()
	if pub, ok := p.pubs[name]; ok {
		return pub, nil
	}
	pub := &PublicationImpl{
		agentName: options.AgentName,
		topic:     topic,
		topicType: reflect.TypeOf(options.TopicType),
		km:        make(map[string][]byte),
		log:       p.log,
	}
	p.pubs[name] = pub
	p.log.Debugf("Publish(%s)", name)
	return pub, nil
}

// NewSubscription creates a new Subscription with given options
func (p *PubSub) NewSubscription(options SubscriptionOptions) (Subscription, error) {
	if options.TopicImpl == nil {
		return nil, fmt.Errorf("cannot create a subscription with a nil "+
			"topicImpl. options: %+v", options)
	}
	topic := TypeToName(options.TopicImpl)
	name := nameString(options.AgentName, topic)

	p.Lock()
	defer p.Unlock()
	pub, ok := p.pubs[name]
	if !ok {
		// Subscribing before the publisher exists is normal during
		// startup; create the publication shell so changes flow once
		// the publisher shows up.
		pub = &PublicationImpl{
			agentName: options.AgentName,
			topic:     topic,
			topicType: reflect.TypeOf(options.TopicImpl),
			km:        make(map[string][]byte),
			log:       p.log,
		}
		p.pubs[name] = pub
	}
	sub := &SubscriptionImpl{
		C:             make(chan Change, 256),
		agentName:     options.AgentName,
		topic:         topic,
		topicType:     reflect.TypeOf(options.TopicImpl),
		userCtx:       options.Ctx,
		km:            make(map[string][]byte),
		CreateHandler: options.CreateHandler,
		ModifyHandler: options.ModifyHandler,
		DeleteHandler: options.DeleteHandler,
		log:           p.log,
		myAgentName:   options.MyAgentName,
	}
	p.log.Infof("Subscribe(%s)", name)
	if options.Activate {
		pub.attach(sub)
		sub.activated = true
	} else {
		sub.pending = pub
	}
	return sub, nil
}

// StillRunning touches a file per agentName to signal the watchdog that
// the agent main loop is alive, and complains when the interval between
// touches grows past the warning and error thresholds.
func (p *PubSub) StillRunning(agentName string, warnTime time.Duration, errTime time.Duration) {
	p.Lock()
	last, seen := p.lastTouch[agentName]
	now := time.Now()
	p.lastTouch[agentName] = now
	dir := p.watchdogDir
	p.Unlock()

	if seen {
		elapsed := now.Sub(last)
		if errTime != 0 && elapsed > errTime {
			p.log.Errorf("StillRunning(%s) took %v longer than %v",
				agentName, elapsed, errTime)
		} else if warnTime != 0 && elapsed > warnTime {
			p.log.Warnf("StillRunning(%s) took %v longer than %v",
				agentName, elapsed, warnTime)
		}
	}
	filename := fmt.Sprintf("%s/%s.touch", dir, agentName)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	base.TouchFile(p.log, filename)
}
