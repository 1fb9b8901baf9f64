package main

import (
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// bot bundles the handler state registered on the gateway session.
type bot struct {
	tracker *voiceTracker
	guilds  []string
}

func (b *bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("gateway session ready")
}

// handleGuildCreate seeds presence for a guild when its state arrives, so
// users already connected to voice accrue from the first tick.
func (b *bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if !guildEnabled(b.guilds, g.ID) {
		return
	}

	b.tracker.SetGuildName(g.ID, g.Name)

	channelNames := make(map[string]string, len(g.Channels))
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			channelNames[ch.ID] = ch.Name
		}
	}

	seeded := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == "" {
			continue
		}
		b.tracker.Join(g.ID, vs.ChannelID, vs.UserID, channelNames[vs.ChannelID])
		if member, err := s.State.Member(g.ID, vs.UserID); err == nil {
			b.recordNames(g.ID, member)
		}
		seeded++
	}

	if seeded > 0 {
		log.Info().Str("guild", g.Name).Int("users", seeded).Msg("seeded users already in voice")
	}
}

func (b *bot) handleVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if !guildEnabled(b.guilds, v.GuildID) {
		return
	}

	if v.Member != nil {
		b.recordNames(v.GuildID, v.Member)
	}

	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}

	// Mute/deafen toggles arrive as voice state updates with the same
	// channel before and after; they fall through without touching presence.
	switch {
	case before == "" && v.ChannelID != "":
		b.tracker.Join(v.GuildID, v.ChannelID, v.UserID, b.channelName(s, v.ChannelID))
		VoiceLog(v.GuildID, v.ChannelID, v.UserID, log.Info()).Msg("user joined voice")
	case before != "" && v.ChannelID == "":
		b.tracker.Leave(v.GuildID, before, v.UserID)
		VoiceLog(v.GuildID, before, v.UserID, log.Info()).Msg("user left voice")
	case before != "" && v.ChannelID != "" && before != v.ChannelID:
		b.tracker.Move(v.GuildID, before, v.ChannelID, v.UserID, b.channelName(s, v.ChannelID))
		VoiceLog(v.GuildID, v.ChannelID, v.UserID, log.Debug()).
			Str("from", before).
			Msg("user moved voice channels")
	}
}

func (b *bot) handleUserUpdate(s *discordgo.Session, u *discordgo.UserUpdate) {
	setUserInfoMetric(u.ID, u.Username, u.GlobalName)
}

func (b *bot) handleGuildMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if !guildEnabled(b.guilds, m.GuildID) {
		return
	}
	b.recordNames(m.GuildID, m.Member)
}

func (b *bot) recordNames(guildID string, member *discordgo.Member) {
	if member == nil || member.User == nil {
		return
	}
	setUserInfoMetric(member.User.ID, member.User.Username, member.User.GlobalName)
	setMemberInfoMetric(guildID, member.User.ID, displayName(member))
}

func displayName(member *discordgo.Member) string {
	switch {
	case member.Nick != "":
		return member.Nick
	case member.User.GlobalName != "":
		return member.User.GlobalName
	default:
		return member.User.Username
	}
}

func (b *bot) channelName(s *discordgo.Session, channelID string) string {
	if s == nil || s.State == nil {
		return ""
	}
	ch, err := s.State.Channel(channelID)
	if err != nil {
		log.Debug().Err(err).Str("channel", channelID).Msg("channel not in state cache")
		return ""
	}
	return ch.Name
}
