package hub

import (
	"context"
	"log/slog"

	"yankcord/internal/constants"
	"yankcord/internal/models"
)

// handleJoinVoice implements spec §4.7's join_voice: the channel must be
// voice-kind and the connection must not already be in a voice channel
// (resolved Open Question 1 — rejected, not evicted).
func (h *Hub) handleJoinVoice(ctx context.Context, c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inJoinVoice
	if err := decodePayload(raw, &in); err != nil {
		h.replyError(c.ID, "", "", ErrValidationFailed)
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, constants.PersistenceTimeout)
	ch, err := h.persistence.GetChannel(dbCtx, in.ChannelID)
	cancel()
	if err != nil {
		h.replyError(c.ID, in.ChannelID, "", ErrNotFound)
		return
	}
	if ch.Kind != models.ChannelKindVoice {
		h.replyError(c.ID, in.ChannelID, "", ErrValidationFailed)
		return
	}

	if ok := h.roomIndex.joinVoice(c.ID, in.ChannelID, identity.Username); !ok {
		h.replyError(c.ID, in.ChannelID, "", ErrAlreadyInVoice)
		return
	}

	codecCtx, cancelCodec := context.WithTimeout(ctx, constants.PersistenceTimeout)
	defer cancelCodec()
	if codecs, err := h.persistence.ListVoiceChannelCodecConfigs(codecCtx); err == nil {
		if cfg, ok := codecs[in.ChannelID]; ok {
			h.sfu.Configure(in.ChannelID, cfg)
		}
	}

	joined := newVoiceUserJoined(in.ChannelID, identity.Username)
	h.fabric.toChannel(h.roomIndex, in.ChannelID, TypeVoiceUserJoined, joined, "")
	h.fabric.toVoiceMembers(h.roomIndex, in.ChannelID, TypeVoiceUserJoined, joined, c.ID)

	h.fabric.toConnection(c.ID, TypeVoiceJoined, newVoiceJoined(in.ChannelID))
	snapshot := h.roomIndex.voiceMembersSnapshot(in.ChannelID)
	h.fabric.toConnection(c.ID, TypeVoicePresenceSnapshot,
		newVoicePresenceSnapshot([]VoiceChannelPresence{{ChannelID: in.ChannelID, Members: snapshot}}))
}

func (h *Hub) handleLeaveVoice(ctx context.Context, c *Connection, log *slog.Logger) {
	identity := c.Identity()
	h.releaseVoice(ctx, c, identity.Username, log)
}

// releaseVoice handles an explicit leave_voice. Disconnect teardown
// (doDropConnection) releases voice membership and producers on its own.
func (h *Hub) releaseVoice(ctx context.Context, c *Connection, username string, log *slog.Logger) {
	chID, ok := h.roomIndex.leaveVoice(c.ID, username)
	if !ok {
		return // duplicate leave_voice is a no-op (spec §8)
	}

	for _, p := range h.roomIndex.channelProducers(chID) {
		if p.OwnerConn != c.ID {
			continue
		}
		h.roomIndex.removeProducer(chID, p.ProducerID)
		if h.sfu != nil {
			_ = h.sfu.CloseProducer(ctx, chID, p.ProducerID)
		}
		h.fabric.toVoiceMembers(h.roomIndex, chID, TypeMediaSignal,
			newMediaSignal(chID, "", map[string]any{
				"action":      ActionProducerClosed,
				"producer_id": p.ProducerID,
				"source":      p.Source,
				"username":    username,
			}), "")
	}

	left := newVoiceUserLeft(chID, username)
	h.fabric.toChannel(h.roomIndex, chID, TypeVoiceUserLeft, left, "")
	h.fabric.toVoiceMembers(h.roomIndex, chID, TypeVoiceUserLeft, left, "")
}

// handleVoiceActivity: low-priority speaking toggle, forced false while
// muted (spec §4.7).
func (h *Hub) handleVoiceActivity(c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	if allowed, shouldClose := c.limiter.allow(categoryVoiceActivity); !allowed {
		h.replyError(c.ID, "", "", errRateLimited(string(categoryVoiceActivity)))
		if shouldClose {
			c.closeAsync(constants.CloseRateAbuse, "rate_abuse")
		}
		return
	}
	var in inVoiceActivity
	if err := decodePayload(raw, &in); err != nil {
		return
	}
	chID, inVoice := h.roomIndex.voiceChannelOf(c.ID)
	if !inVoice || chID != in.ChannelID {
		return
	}

	speaking := in.Speaking
	h.roomIndex.setVoicePresence(in.ChannelID, identity.Username, func(p *models.VoicePresence) {
		if p.MicMuted {
			speaking = false
		}
		p.Speaking = speaking
	})
	h.fabric.toVoiceMembers(h.roomIndex, in.ChannelID, TypeVoiceUserSpeaking,
		newVoiceUserSpeaking(in.ChannelID, identity.Username, speaking), "")
}

func (h *Hub) handleVoiceMuteState(c *Connection, raw []byte, log *slog.Logger) {
	identity := c.Identity()
	var in inVoiceMuteState
	if err := decodePayload(raw, &in); err != nil {
		return
	}
	chID, inVoice := h.roomIndex.voiceChannelOf(c.ID)
	if !inVoice {
		h.replyError(c.ID, "", "", ErrNotInVoice)
		return
	}
	h.roomIndex.setVoicePresence(chID, identity.Username, func(p *models.VoicePresence) {
		p.MicMuted = in.MicMuted
		p.SpeakerMuted = in.SpeakerMuted
		if in.MicMuted {
			p.Speaking = false
		}
	})
	h.fabric.toVoiceMembers(h.roomIndex, chID, TypeVoiceUserMuteState,
		newVoiceUserMuteState(chID, identity.Username, in.MicMuted, in.SpeakerMuted), "")
}
