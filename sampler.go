package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// voiceStateSource yields the current voice occupancy for every tracked
// guild. The production implementation reads the discordgo state cache.
type voiceStateSource interface {
	guildSnapshots() ([]guildSnapshot, error)
}

// sessionSource reads voice occupancy from the gateway session's state
// cache, the same cache the event handlers keep warm.
type sessionSource struct {
	session *discordgo.Session
	guilds  []string
}

func (s *sessionSource) guildSnapshots() ([]guildSnapshot, error) {
	state := s.session.State
	if state == nil {
		return nil, fmt.Errorf("gateway state cache is not available")
	}

	type voiceEntry struct {
		channelID string
		userID    string
	}
	type guildCopy struct {
		id      string
		name    string
		entries []voiceEntry
	}

	// The gateway goroutine mutates guild voice states under the state
	// lock, so copy what we need before letting go of it. Channel names
	// are resolved afterwards: State.Channel takes the same lock.
	state.RLock()
	copies := make([]guildCopy, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		if !guildEnabled(s.guilds, guild.ID) {
			continue
		}
		gc := guildCopy{id: guild.ID, name: guild.Name}
		for _, vs := range guild.VoiceStates {
			if vs.ChannelID == "" {
				continue
			}
			gc.entries = append(gc.entries, voiceEntry{vs.ChannelID, vs.UserID})
		}
		copies = append(copies, gc)
	}
	state.RUnlock()

	var snaps []guildSnapshot
	for _, gc := range copies {
		snap := guildSnapshot{
			guildID:   gc.id,
			guildName: gc.name,
			channels:  make(map[string]channelOccupancy),
		}
		for _, entry := range gc.entries {
			occ := snap.channels[entry.channelID]
			if occ.name == "" {
				if ch, err := state.Channel(entry.channelID); err == nil {
					occ.name = ch.Name
				}
			}
			occ.users = append(occ.users, entry.userID)
			snap.channels[entry.channelID] = occ
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// sampler accrues voice time on a fixed interval. Each tick polls the
// source, replaces the tracker's presence with the polled snapshot, and
// accrues the monotonic elapsed time since the previous tick. A failed
// poll skips the tick: nothing accrues and the prior presence is kept.
type sampler struct {
	source   voiceStateSource
	tracker  *voiceTracker
	interval time.Duration

	last time.Time
}

func (sm *sampler) run(ctx context.Context) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	sm.last = time.Now()
	log.Info().Dur("interval", sm.interval).Msg("starting voice sampler")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("voice sampler stopped")
			return
		case now := <-ticker.C:
			sm.tick(now)
		}
	}
}

func (sm *sampler) tick(now time.Time) {
	dt := now.Sub(sm.last)
	sm.last = now
	if dt <= 0 {
		return
	}

	snaps, err := sm.source.guildSnapshots()
	if err != nil {
		samplerTicks.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("could not read voice states, skipping tick")
		return
	}

	for _, snap := range snaps {
		sm.tracker.Observe(snap)
	}
	sm.tracker.Accrue(dt)
	samplerTicks.WithLabelValues("ok").Inc()
}
