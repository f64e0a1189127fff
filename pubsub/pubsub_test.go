// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package pubsub

import (
	"testing"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = base.NewSourceLogObject(logrus.StandardLogger(), "pubsub_test", 0)

type item struct {
	AString string
	AnInt   int
}

type handlerCalls struct {
	created  []string
	modified []string
	deleted  []string
}

func drain(sub Subscription) {
	for {
		select {
		case change := <-sub.MsgChan():
			sub.ProcessChange(change)
		default:
			return
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	ps := New(testLog)
	calls := &handlerCalls{}

	pub, err := ps.NewPublication(PublicationOptions{
		AgentName: "testagent",
		TopicType: item{},
	})
	require.NoError(t, err)

	sub, err := ps.NewSubscription(SubscriptionOptions{
		AgentName: "testagent",
		TopicImpl: item{},
		Activate:  true,
		Ctx:       calls,
		CreateHandler: func(ctx interface{}, key string, status interface{}) {
			c := ctx.(*handlerCalls)
			c.created = append(c.created, key)
		},
		ModifyHandler: func(ctx interface{}, key string, status interface{}) {
			c := ctx.(*handlerCalls)
			c.modified = append(c.modified, key)
		},
		DeleteHandler: func(ctx interface{}, key string, status interface{}) {
			c := ctx.(*handlerCalls)
			c.deleted = append(c.deleted, key)
		},
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish("global", item{AString: "a", AnInt: 1}))
	drain(sub)
	assert.Equal(t, []string{"global"}, calls.created)

	got, err := sub.Get("global")
	require.NoError(t, err)
	assert.Equal(t, item{AString: "a", AnInt: 1}, got.(item))

	require.NoError(t, pub.Publish("global", item{AString: "b", AnInt: 2}))
	drain(sub)
	assert.Equal(t, []string{"global"}, calls.modified)

	require.NoError(t, pub.Unpublish("global"))
	drain(sub)
	assert.Equal(t, []string{"global"}, calls.deleted)
	_, err = sub.Get("global")
	assert.Error(t, err)
}

func TestPublishUnchangedSuppressed(t *testing.T) {
	ps := New(testLog)
	pub, err := ps.NewPublication(PublicationOptions{
		AgentName: "testagent",
		TopicType: item{},
	})
	require.NoError(t, err)
	sub, err := ps.NewSubscription(SubscriptionOptions{
		AgentName: "testagent",
		TopicImpl: item{},
		Activate:  true,
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish("k", item{AString: "same", AnInt: 7}))
	require.NoError(t, pub.Publish("k", item{AString: "same", AnInt: 7}))

	var changes int
	for {
		select {
		case change := <-sub.MsgChan():
			sub.ProcessChange(change)
			changes++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, changes)
}

func TestSubscriberCatchesUpOnActivate(t *testing.T) {
	ps := New(testLog)
	pub, err := ps.NewPublication(PublicationOptions{
		AgentName: "testagent",
		TopicType: item{},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Publish("early", item{AString: "x", AnInt: 9}))

	sub, err := ps.NewSubscription(SubscriptionOptions{
		AgentName: "testagent",
		TopicImpl: item{},
		Activate:  true,
	})
	require.NoError(t, err)
	drain(sub)

	got, err := sub.Get("early")
	require.NoError(t, err)
	assert.Equal(t, 9, got.(item).AnInt)
	assert.Len(t, sub.GetAll(), 1)
}

func TestGetReturnsCopies(t *testing.T) {
	ps := New(testLog)
	pub, err := ps.NewPublication(PublicationOptions{
		AgentName: "testagent",
		TopicType: item{},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Publish("k", item{AString: "orig", AnInt: 1}))

	got, err := pub.Get("k")
	require.NoError(t, err)
	mutated := got.(item)
	mutated.AString = "changed"

	again, err := pub.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.(item).AString)
}

func TestPublishWrongTopic(t *testing.T) {
	ps := New(testLog)
	pub, err := ps.NewPublication(PublicationOptions{
		AgentName: "testagent",
		TopicType: item{},
	})
	require.NoError(t, err)

	type other struct{ B bool }
	assert.Error(t, pub.Publish("k", other{}))
}
