package hub

import (
	"testing"

	"yankcord/internal/models"
)

func TestRoomIndexChannelSubscription(t *testing.T) {
	ri := newRoomIndex()
	ri.subscribeChannel("conn1", "c1")
	ri.subscribeChannel("conn2", "c1")

	if !ri.isSubscribed("conn1", "c1") {
		t.Fatal("expected conn1 subscribed to c1")
	}
	subs := ri.channelSubscribers("c1")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(subs))
	}

	channels, _ := ri.removeConnection("conn1")
	if len(channels) != 1 || channels[0] != "c1" {
		t.Fatalf("expected removeConnection to report c1, got %v", channels)
	}
	if ri.isSubscribed("conn1", "c1") {
		t.Fatal("conn1 should no longer be subscribed after removal")
	}
	if len(ri.channelSubscribers("c1")) != 1 {
		t.Fatal("c1 should still have conn2 subscribed")
	}
}

func TestRoomIndexJoinVoiceRejectsSecondJoin(t *testing.T) {
	ri := newRoomIndex()
	if ok := ri.joinVoice("conn1", "v1", "alice"); !ok {
		t.Fatal("expected first join to succeed")
	}
	if ok := ri.joinVoice("conn1", "v2", "alice"); ok {
		t.Fatal("expected second join by the same connection to be rejected")
	}
	ch, ok := ri.voiceChannelOf("conn1")
	if !ok || ch != "v1" {
		t.Fatalf("expected conn1 to remain in v1, got %q, %v", ch, ok)
	}
}

func TestRoomIndexLeaveVoiceRoundTrips(t *testing.T) {
	ri := newRoomIndex()
	ri.joinVoice("conn1", "v1", "alice")

	ch, ok := ri.leaveVoice("conn1", "alice")
	if !ok || ch != "v1" {
		t.Fatalf("expected leaveVoice to report v1, got %q, %v", ch, ok)
	}
	if _, stillIn := ri.voiceChannelOf("conn1"); stillIn {
		t.Fatal("conn1 should not be in any voice channel after leaving")
	}
	if members := ri.voiceMembersSnapshot("v1"); len(members) != 0 {
		t.Fatalf("expected empty voice snapshot after leave, got %v", members)
	}

	// Duplicate leave is a no-op.
	if _, ok := ri.leaveVoice("conn1", "alice"); ok {
		t.Fatal("expected duplicate leaveVoice to report no-op (ok=false)")
	}

	// A fresh join after leaving must succeed, confirming state fully reset.
	if ok := ri.joinVoice("conn1", "v2", "alice"); !ok {
		t.Fatal("expected join after leave to succeed, voice state was not fully restored")
	}
}

func TestRoomIndexProducerSourceLimits(t *testing.T) {
	ri := newRoomIndex()
	ri.addProducer(&producerHandle{
		ProducerID: "p1", OwnerConn: "conn1", ChannelID: "v1",
		Kind: models.ProducerKindVideo, Source: models.SourceCamera, Username: "alice",
	})

	if n := ri.countProducers("conn1", "v1", models.SourceCamera); n != 1 {
		t.Fatalf("expected 1 camera producer, got %d", n)
	}
	if n := ri.countProducers("conn1", "v1", models.SourceScreen); n != 0 {
		t.Fatalf("expected 0 screen producers, got %d", n)
	}

	h, ok := ri.producer("v1", "p1")
	if !ok || h.ProducerID != "p1" {
		t.Fatal("expected to find producer p1 in channel v1")
	}

	removed, ok := ri.removeProducer("v1", "p1")
	if !ok || removed.ProducerID != "p1" {
		t.Fatal("expected removeProducer to return the removed handle")
	}
	if n := ri.countProducers("conn1", "v1", models.SourceCamera); n != 0 {
		t.Fatalf("expected 0 camera producers after removal, got %d", n)
	}
	if _, ok := ri.producer("v1", "p1"); ok {
		t.Fatal("producer should no longer be found after removal")
	}

	// Removing an already-removed producer is a no-op.
	if _, ok := ri.removeProducer("v1", "p1"); ok {
		t.Fatal("expected second removeProducer to report not found")
	}
}

func TestRoomIndexOwnedProducersForTeardown(t *testing.T) {
	ri := newRoomIndex()
	ri.addProducer(&producerHandle{ProducerID: "p1", OwnerConn: "conn1", ChannelID: "v1", Source: models.SourceMicrophone, Username: "alice"})
	ri.addProducer(&producerHandle{ProducerID: "p2", OwnerConn: "conn1", ChannelID: "v1", Source: models.SourceCamera, Username: "alice"})
	ri.addProducer(&producerHandle{ProducerID: "p3", OwnerConn: "conn2", ChannelID: "v1", Source: models.SourceMicrophone, Username: "bob"})

	owned := ri.ownedProducers("conn1")
	if len(owned) != 2 {
		t.Fatalf("expected 2 owned producers for conn1, got %d", len(owned))
	}
}
