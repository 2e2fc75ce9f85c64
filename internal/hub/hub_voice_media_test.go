package hub

import (
	"context"
	"encoding/json"
	"testing"

	"yankcord/internal/models"
	"yankcord/internal/sfuengine"
)

func newTestHubWithSFU(t *testing.T) (*Hub, *fakePersistence, *fakeSFU) {
	t.Helper()
	fp := newFakePersistence()
	sfu := newFakeSFU()
	h := New(fp, sfu, testLogger())
	return h, fp, sfu
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mediaSignalFrame(t *testing.T, channelID, requestID string, payload map[string]any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{
		"type":       TypeMediaSignal,
		"channel_id": channelID,
		"request_id": requestID,
		"payload":    payload,
	})
}

// mediaPayload unwraps a decoded media_signal frame's nested "payload"
// object, where the action-specific fields actually live (the envelope
// itself only carries type/channel_id/request_id).
func mediaPayload(f map[string]any) map[string]any {
	p, _ := f["payload"].(map[string]any)
	return p
}

// onlyMediaSignal asserts frames holds exactly one media_signal frame and
// returns its unwrapped payload.
func onlyMediaSignal(t *testing.T, frames []map[string]any) map[string]any {
	t.Helper()
	if len(frames) != 1 || frames[0]["type"] != TypeMediaSignal {
		t.Fatalf("expected exactly one media_signal frame, got %v", frames)
	}
	return mediaPayload(frames[0])
}

// TestScenarioVoiceJoinLeave covers spec §8's voice join/leave scenario:
// joining a voice channel sends voice_joined first to the joiner and fans
// out voice_user_joined to existing members, a repeat join is rejected,
// leaving fans out voice_user_left, and a duplicate leave is a no-op.
func TestScenarioVoiceJoinLeave(t *testing.T) {
	h, fp, _ := newTestHubWithSFU(t)
	fp.addChannel(models.Channel{ID: "v1", Kind: models.ChannelKindVoice, Name: "general-voice"})

	a := connectAndAuth(t, h, fp, "conn-a", "T_alice", models.Identity{UserID: "u1", Username: "alice"})
	b := connectAndAuth(t, h, fp, "conn-b", "T_bob", models.Identity{UserID: "u2", Username: "bob"})
	drainFrames(a)
	drainFrames(b)

	ctx := context.Background()
	log := testLogger()

	joinA := mustMarshal(t, map[string]string{"type": TypeJoinVoice, "channel_id": "v1"})
	if _, ok := h.handleFrame(ctx, a, joinA, log); !ok {
		t.Fatal("alice's join_voice failed")
	}
	aFrames := drainFrames(a)
	if types := frameTypes(aFrames); len(types) < 2 || types[0] != TypeVoiceJoined {
		t.Fatalf("expected alice's first frame to be voice_joined, got %v", types)
	}

	// Second join on the same connection while already in voice must be
	// rejected, not an implicit channel switch (resolved Open Question 1).
	if _, ok := h.handleFrame(ctx, a, joinA, log); !ok {
		t.Fatal("repeat join_voice should not close the connection")
	}
	aFrames = drainFrames(a)
	found := false
	for _, f := range aFrames {
		if f["type"] == TypeSignalError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected signal_error for already_in_voice, got %v", aFrames)
	}

	joinB := mustMarshal(t, map[string]string{"type": TypeJoinVoice, "channel_id": "v1"})
	if _, ok := h.handleFrame(ctx, b, joinB, log); !ok {
		t.Fatal("bob's join_voice failed")
	}

	// Alice should have observed bob join.
	aFrames = drainFrames(a)
	found = false
	for _, f := range aFrames {
		if f["type"] == TypeVoiceUserJoined && f["username"] == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alice to see bob's voice_user_joined, got %v", aFrames)
	}
	drainFrames(b)

	leave := mustMarshal(t, map[string]string{"type": TypeLeaveVoice})
	if _, ok := h.handleFrame(ctx, b, leave, log); !ok {
		t.Fatal("bob's leave_voice failed")
	}
	aFrames = drainFrames(a)
	found = false
	for _, f := range aFrames {
		if f["type"] == TypeVoiceUserLeft && f["username"] == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alice to see bob's voice_user_left, got %v", aFrames)
	}

	// Duplicate leave_voice is a no-op, not an error (spec §8 idempotence).
	if _, ok := h.handleFrame(ctx, b, leave, log); !ok {
		t.Fatal("duplicate leave_voice should not close the connection")
	}
}

// TestScenarioMediaProduceConsume drives the full produce/consume/resume
// signaling flow of spec §4.8/§8 through two voice members, asserting
// both the direct request/response correlation and the new_producer /
// producer_closed fan-out to the other voice member.
func TestScenarioMediaProduceConsume(t *testing.T) {
	h, fp, sfu := newTestHubWithSFU(t)
	fp.addChannel(models.Channel{ID: "v1", Kind: models.ChannelKindVoice, Name: "voice"})

	a := connectAndAuth(t, h, fp, "conn-a", "T_alice", models.Identity{UserID: "u1", Username: "alice"})
	b := connectAndAuth(t, h, fp, "conn-b", "T_bob", models.Identity{UserID: "u2", Username: "bob"})
	drainFrames(a)
	drainFrames(b)

	ctx := context.Background()
	log := testLogger()

	for _, c := range []*Connection{a, b} {
		join := mustMarshal(t, map[string]string{"type": TypeJoinVoice, "channel_id": "v1"})
		if _, ok := h.handleFrame(ctx, c, join, log); !ok {
			t.Fatalf("join_voice failed for %s", c.ID)
		}
	}
	drainFrames(a)
	drainFrames(b)

	getCaps := mediaSignalFrame(t, "v1", "req1", map[string]any{"action": ActionGetRouterRTPCapabilities})
	if _, ok := h.handleFrame(ctx, a, getCaps, log); !ok {
		t.Fatal("get_router_rtp_capabilities failed")
	}
	aFrames := drainFrames(a)
	if len(aFrames) != 1 || aFrames[0]["request_id"] != "req1" {
		t.Fatalf("expected a single reply correlated to req1, got %v", aFrames)
	}
	payload := onlyMediaSignal(t, aFrames)
	if payload["action"] != ActionRouterRTPCapabilities {
		t.Fatalf("expected router_rtp_capabilities, got %v", payload)
	}

	createSend := mediaSignalFrame(t, "v1", "req2", map[string]any{
		"action": ActionCreateWebRTCTransport, "direction": "send",
	})
	if _, ok := h.handleFrame(ctx, a, createSend, log); !ok {
		t.Fatal("create_webrtc_transport(send) failed")
	}
	payload = onlyMediaSignal(t, drainFrames(a))
	if payload["action"] != ActionWebRTCTransportCreated {
		t.Fatalf("expected webrtc_transport_created, got %v", payload)
	}
	transport, _ := payload["transport"].(map[string]any)
	if transport == nil || transport["transport_id"] == "" {
		t.Fatalf("expected a transport descriptor with an id, got %v", payload)
	}
	sendTransportID, _ := transport["transport_id"].(string)

	connect := mediaSignalFrame(t, "v1", "req3", map[string]any{
		"action": ActionConnectWebRTCTransport, "transport_id": sendTransportID, "dtls_parameters": map[string]any{"role": "client"},
	})
	if _, ok := h.handleFrame(ctx, a, connect, log); !ok {
		t.Fatal("connect_webrtc_transport failed")
	}
	payload = onlyMediaSignal(t, drainFrames(a))
	if payload["action"] != ActionWebRTCTransportConnected {
		t.Fatalf("expected webrtc_transport_connected, got %v", payload)
	}

	produce := mediaSignalFrame(t, "v1", "req4", map[string]any{
		"action": ActionMediaProduce, "kind": string(models.ProducerKindAudio),
		"rtp_parameters": map[string]any{}, "source": string(models.SourceMicrophone),
		"routing_mode": models.RoutingModeSFU,
	})
	if _, ok := h.handleFrame(ctx, a, produce, log); !ok {
		t.Fatal("media_produce failed")
	}
	payload = onlyMediaSignal(t, drainFrames(a))
	if payload["action"] != ActionMediaProduced {
		t.Fatalf("expected media_produced, got %v", payload)
	}
	producerID, _ := payload["producer_id"].(string)
	if producerID == "" {
		t.Fatal("expected a producer id")
	}

	// Bob (the other voice member) should have received new_producer.
	bFrames := drainFrames(b)
	var newProducerPayload map[string]any
	for _, f := range bFrames {
		if p := mediaPayload(f); p != nil && p["action"] == ActionNewProducer {
			newProducerPayload = p
		}
	}
	if newProducerPayload == nil || newProducerPayload["producer_id"] != producerID {
		t.Fatalf("expected bob to see new_producer for alice's producer, got %v", bFrames)
	}

	// Bob creates his recv transport; the "snapshot of existing producers"
	// behavior (spec §4.8) should immediately replay alice's producer too.
	createRecv := mediaSignalFrame(t, "v1", "req5", map[string]any{
		"action": ActionCreateWebRTCTransport, "direction": "recv",
	})
	if _, ok := h.handleFrame(ctx, b, createRecv, log); !ok {
		t.Fatal("bob's create_webrtc_transport(recv) failed")
	}
	bFrames = drainFrames(b)
	var recvDesc map[string]any
	sawSnapshotProducer := false
	for _, f := range bFrames {
		p := mediaPayload(f)
		if p == nil {
			continue
		}
		if p["action"] == ActionWebRTCTransportCreated {
			recvDesc, _ = p["transport"].(map[string]any)
		}
		if p["action"] == ActionNewProducer && p["producer_id"] == producerID {
			sawSnapshotProducer = true
		}
	}
	if recvDesc == nil {
		t.Fatalf("expected bob's recv transport descriptor, got %v", bFrames)
	}
	if !sawSnapshotProducer {
		t.Fatalf("expected bob's recv-transport creation to replay alice's existing producer, got %v", bFrames)
	}

	consume := mediaSignalFrame(t, "v1", "req6", map[string]any{
		"action": ActionMediaConsume, "producer_id": producerID, "rtp_capabilities": map[string]any{},
	})
	if _, ok := h.handleFrame(ctx, b, consume, log); !ok {
		t.Fatal("media_consume failed")
	}
	payload = onlyMediaSignal(t, drainFrames(b))
	if payload["action"] != ActionMediaConsumerCreated {
		t.Fatalf("expected media_consumer_created, got %v", payload)
	}
	consumerDesc, _ := payload["consumer"].(map[string]any)
	consumerID, _ := consumerDesc["consumer_id"].(string)
	if consumerID == "" {
		t.Fatal("expected a consumer id")
	}

	resume := mediaSignalFrame(t, "v1", "req7", map[string]any{
		"action": ActionMediaResumeConsumer, "consumer_id": consumerID,
	})
	if _, ok := h.handleFrame(ctx, b, resume, log); !ok {
		t.Fatal("media_resume_consumer failed")
	}
	payload = onlyMediaSignal(t, drainFrames(b))
	if payload["action"] != ActionMediaConsumerResumed {
		t.Fatalf("expected media_consumer_resumed, got %v", payload)
	}
	sfu.mu.Lock()
	if c, ok := sfu.consumers[consumerID]; !ok || !c.resumed {
		sfu.mu.Unlock()
		t.Fatal("expected the fake engine's consumer to be marked resumed")
	}
	sfu.mu.Unlock()

	// alice closes her producer; bob should see producer_closed, and a
	// repeat close of the same id must be idempotent (spec §8).
	closeProducer := mediaSignalFrame(t, "v1", "req8", map[string]any{
		"action": ActionMediaCloseProducer, "producer_id": producerID,
	})
	if _, ok := h.handleFrame(ctx, a, closeProducer, log); !ok {
		t.Fatal("media_close_producer failed")
	}
	payload = onlyMediaSignal(t, drainFrames(a))
	if payload["action"] != ActionMediaProducerClosed {
		t.Fatalf("expected media_producer_closed, got %v", payload)
	}
	bFrames = drainFrames(b)
	found := false
	for _, f := range bFrames {
		if p := mediaPayload(f); p != nil && p["action"] == ActionProducerClosed && p["producer_id"] == producerID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bob to see producer_closed, got %v", bFrames)
	}

	if _, ok := h.handleFrame(ctx, a, closeProducer, log); !ok {
		t.Fatal("repeat media_close_producer should not close the connection")
	}
	payload = onlyMediaSignal(t, drainFrames(a))
	if payload["action"] != ActionMediaProducerClosed {
		t.Fatalf("expected idempotent media_producer_closed on repeat close, got %v", payload)
	}
}

// TestScenarioMediaSignalRejectsOutsideVoice confirms a media_signal
// frame is rejected with not_in_voice when the connection has never
// joined the channel it names (spec §4.8).
func TestScenarioMediaSignalRejectsOutsideVoice(t *testing.T) {
	h, fp, _ := newTestHubWithSFU(t)
	fp.addChannel(models.Channel{ID: "v1", Kind: models.ChannelKindVoice, Name: "voice"})
	a := connectAndAuth(t, h, fp, "conn-a", "T_alice", models.Identity{UserID: "u1", Username: "alice"})
	drainFrames(a)

	getCaps := mediaSignalFrame(t, "v1", "req1", map[string]any{"action": ActionGetRouterRTPCapabilities})
	if _, ok := h.handleFrame(context.Background(), a, getCaps, testLogger()); !ok {
		t.Fatal("media_signal outside voice should not close the connection")
	}
	frames := drainFrames(a)
	if len(frames) != 1 || frames[0]["type"] != TypeSignalError {
		t.Fatalf("expected a signal_error for not_in_voice, got %v", frames)
	}
}

// TestScenarioMediaSignalEngineErrorMapping exercises replySFUErr's
// kind-to-wire-error mapping for a transient engine failure.
func TestScenarioMediaSignalEngineErrorMapping(t *testing.T) {
	h, fp, sfu := newTestHubWithSFU(t)
	fp.addChannel(models.Channel{ID: "v1", Kind: models.ChannelKindVoice, Name: "voice"})
	a := connectAndAuth(t, h, fp, "conn-a", "T_alice", models.Identity{UserID: "u1", Username: "alice"})
	drainFrames(a)

	ctx := context.Background()
	log := testLogger()
	join := mustMarshal(t, map[string]string{"type": TypeJoinVoice, "channel_id": "v1"})
	if _, ok := h.handleFrame(ctx, a, join, log); !ok {
		t.Fatal("join_voice failed")
	}
	drainFrames(a)

	sfu.mu.Lock()
	sfu.producers["ghost_producer"] = fakeProducer{channelID: "v1", connID: "someone-else", kind: models.ProducerKindAudio}
	sfu.mu.Unlock()
	h.roomIndex.addProducer(&producerHandle{
		ProducerID: "ghost_producer", OwnerConn: "someone-else", ChannelID: "v1",
		Kind: models.ProducerKindAudio, Source: models.SourceMicrophone, Username: "ghost",
	})

	sfu.mu.Lock()
	sfu.failNextConsume = sfuengine.NewTransientError("consume", context.DeadlineExceeded)
	sfu.mu.Unlock()

	consume := mediaSignalFrame(t, "v1", "req1", map[string]any{
		"action": ActionMediaConsume, "producer_id": "ghost_producer", "rtp_capabilities": map[string]any{},
	})
	if _, ok := h.handleFrame(ctx, a, consume, log); !ok {
		t.Fatal("media_consume should not close the connection on a transient engine error")
	}
	frames := drainFrames(a)
	if len(frames) != 1 || frames[0]["type"] != TypeSignalError {
		t.Fatalf("expected a signal_error, got %v", frames)
	}
	if frames[0]["kind"] != ErrUpstream.Kind {
		t.Fatalf("expected kind %q for a transient engine error, got %v", ErrUpstream.Kind, frames[0]["kind"])
	}
}

// TestVoiceLeaveClosesOwnedProducers confirms leaving a voice channel
// tears down the leaver's own producers (spec §4.10) and notifies the
// remaining member.
func TestVoiceLeaveClosesOwnedProducers(t *testing.T) {
	h, fp, _ := newTestHubWithSFU(t)
	fp.addChannel(models.Channel{ID: "v1", Kind: models.ChannelKindVoice, Name: "voice"})

	a := connectAndAuth(t, h, fp, "conn-a", "T_alice", models.Identity{UserID: "u1", Username: "alice"})
	b := connectAndAuth(t, h, fp, "conn-b", "T_bob", models.Identity{UserID: "u2", Username: "bob"})
	drainFrames(a)
	drainFrames(b)

	ctx := context.Background()
	log := testLogger()
	for _, c := range []*Connection{a, b} {
		join := mustMarshal(t, map[string]string{"type": TypeJoinVoice, "channel_id": "v1"})
		if _, ok := h.handleFrame(ctx, c, join, log); !ok {
			t.Fatalf("join_voice failed for %s", c.ID)
		}
	}
	drainFrames(a)
	drainFrames(b)

	createSend := mediaSignalFrame(t, "v1", "req1", map[string]any{"action": ActionCreateWebRTCTransport, "direction": "send"})
	if _, ok := h.handleFrame(ctx, a, createSend, log); !ok {
		t.Fatal("create_webrtc_transport failed")
	}
	drainFrames(a)
	produce := mediaSignalFrame(t, "v1", "req2", map[string]any{
		"action": ActionMediaProduce, "kind": string(models.ProducerKindAudio),
		"rtp_parameters": map[string]any{}, "source": string(models.SourceMicrophone),
		"routing_mode": models.RoutingModeSFU,
	})
	if _, ok := h.handleFrame(ctx, a, produce, log); !ok {
		t.Fatal("media_produce failed")
	}
	payload := onlyMediaSignal(t, drainFrames(a))
	producerID, _ := payload["producer_id"].(string)
	drainFrames(b)

	leave := mustMarshal(t, map[string]string{"type": TypeLeaveVoice})
	if _, ok := h.handleFrame(ctx, a, leave, log); !ok {
		t.Fatal("leave_voice failed")
	}

	bFrames := drainFrames(b)
	sawClosed := false
	for _, f := range bFrames {
		if p := mediaPayload(f); p != nil && p["action"] == ActionProducerClosed && p["producer_id"] == producerID {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Fatalf("expected bob to see producer_closed when alice left voice, got %v", bFrames)
	}
	if _, stillThere := h.roomIndex.producer("v1", producerID); stillThere {
		t.Fatal("expected the room index to drop alice's producer on leave_voice")
	}
}
