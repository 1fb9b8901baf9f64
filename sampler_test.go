package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snaps []guildSnapshot
	err   error
	calls int
}

func (f *fakeSource) guildSnapshots() ([]guildSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps, nil
}

func occupiedGuild() []guildSnapshot {
	return []guildSnapshot{{
		guildID:   "g1",
		guildName: "Test Guild",
		channels: map[string]channelOccupancy{
			"c1": {name: "General", users: []string{"u1"}},
		},
	}}
}

func TestTickAccruesElapsedTime(t *testing.T) {
	resetVoiceMetrics()
	src := &fakeSource{snaps: occupiedGuild()}
	sm := &sampler{source: src, tracker: newVoiceTracker(), interval: 5 * time.Second}

	now := time.Now()
	sm.last = now
	for i := 1; i <= 3; i++ {
		sm.tick(now.Add(time.Duration(i) * 5 * time.Second))
	}

	if got := testutil.ToFloat64(voiceUserSeconds.WithLabelValues("g1", "u1")); got != 15 {
		t.Errorf("user seconds = %v, want 15", got)
	}
	if got := testutil.ToFloat64(samplerTicks.WithLabelValues("ok")); got != 3 {
		t.Errorf("ok ticks = %v, want 3", got)
	}
}

func TestTickSkipsOnSourceError(t *testing.T) {
	resetVoiceMetrics()
	src := &fakeSource{snaps: occupiedGuild(), err: errors.New("gateway unavailable")}
	sm := &sampler{source: src, tracker: newVoiceTracker(), interval: 5 * time.Second}

	now := time.Now()
	sm.last = now
	sm.tick(now.Add(5 * time.Second))

	if n := testutil.CollectAndCount(voiceUserSeconds); n != 0 {
		t.Fatalf("user series after failed tick = %d, want 0", n)
	}
	if got := testutil.ToFloat64(samplerTicks.WithLabelValues("error")); got != 1 {
		t.Errorf("error ticks = %v, want 1", got)
	}

	// Recovery accrues only the time since the failed tick, not the gap.
	src.err = nil
	sm.tick(now.Add(10 * time.Second))

	if got := testutil.ToFloat64(voiceUserSeconds.WithLabelValues("g1", "u1")); got != 5 {
		t.Errorf("user seconds after recovery = %v, want 5", got)
	}
}

func TestTickIgnoresNonPositiveDelta(t *testing.T) {
	resetVoiceMetrics()
	src := &fakeSource{snaps: occupiedGuild()}
	sm := &sampler{source: src, tracker: newVoiceTracker(), interval: 5 * time.Second}

	now := time.Now()
	sm.last = now
	sm.tick(now)

	if src.calls != 0 {
		t.Errorf("source calls = %d, want 0", src.calls)
	}
	if n := testutil.CollectAndCount(voiceUserSeconds); n != 0 {
		t.Errorf("user series = %d, want 0", n)
	}
}

func TestSessionSourceSnapshots(t *testing.T) {
	s := &discordgo.Session{State: discordgo.NewState()}
	err := s.State.GuildAdd(&discordgo.Guild{
		ID:   "g1",
		Name: "Test Guild",
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "General", Type: discordgo.ChannelTypeGuildVoice},
		},
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "g1", ChannelID: "c1", UserID: "u1"},
			{GuildID: "g1", ChannelID: "c1", UserID: "u2"},
			{GuildID: "g1", ChannelID: "", UserID: "u3"},
		},
	})
	if err != nil {
		t.Fatalf("adding guild to state: %v", err)
	}

	src := &sessionSource{session: s}
	snaps, err := src.guildSnapshots()
	if err != nil {
		t.Fatalf("guildSnapshots returned error: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	occ, ok := snaps[0].channels["c1"]
	if !ok {
		t.Fatal("snapshot missing channel c1")
	}
	if occ.name != "General" {
		t.Errorf("channel name = %q, want %q", occ.name, "General")
	}
	if len(occ.users) != 2 {
		t.Errorf("channel users = %d, want 2 (disconnected u3 excluded)", len(occ.users))
	}

	// An allowlist that excludes the guild yields no snapshots.
	src = &sessionSource{session: s, guilds: []string{"g2"}}
	snaps, err = src.guildSnapshots()
	if err != nil {
		t.Fatalf("guildSnapshots returned error: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("snapshots = %d, want 0", len(snaps))
	}
}

func TestGuildSnapshotsDuringGatewayUpdates(t *testing.T) {
	s := &discordgo.Session{State: discordgo.NewState(), StateEnabled: true}
	err := s.State.GuildAdd(&discordgo.Guild{
		ID:   "g1",
		Name: "Test Guild",
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "General", Type: discordgo.ChannelTypeGuildVoice},
		},
	})
	if err != nil {
		t.Fatalf("adding guild to state: %v", err)
	}
	src := &sessionSource{session: s}

	// Apply join/leave updates the way the gateway goroutine does while
	// the sampler polls; the race detector flags unlocked reads here.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.State.OnInterface(s, &discordgo.VoiceStateUpdate{
				VoiceState: &discordgo.VoiceState{GuildID: "g1", ChannelID: "c1", UserID: "u1"},
			})
			s.State.OnInterface(s, &discordgo.VoiceStateUpdate{
				VoiceState: &discordgo.VoiceState{GuildID: "g1", ChannelID: "", UserID: "u1"},
			})
		}
	}()

	for {
		if _, err := src.guildSnapshots(); err != nil {
			t.Fatalf("guildSnapshots during updates: %v", err)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	resetVoiceMetrics()
	sm := &sampler{source: &fakeSource{}, tracker: newVoiceTracker(), interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop after cancellation")
	}
}
