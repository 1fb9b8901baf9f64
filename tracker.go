package main

import (
	"sync"
	"time"
)

type presenceKey struct {
	guildID string
	userID  string
}

type channelKey struct {
	guildID   string
	channelID string
}

// channelOccupancy is the polled occupancy of a single voice channel.
type channelOccupancy struct {
	name  string
	users []string
}

// guildSnapshot is one guild's voice occupancy as read from the gateway
// state cache on a sampler tick.
type guildSnapshot struct {
	guildID   string
	guildName string
	channels  map[string]channelOccupancy
}

// voiceTracker owns the in-memory presence state shared by the sampler and
// the gateway event handlers. The accumulated seconds themselves live in
// the Prometheus counters; the tracker only decides who accrues on a tick.
type voiceTracker struct {
	mu           sync.Mutex
	users        map[presenceKey]string
	channels     map[channelKey]map[string]struct{}
	channelNames map[channelKey]string
	guildNames   map[string]string
}

func newVoiceTracker() *voiceTracker {
	return &voiceTracker{
		users:        make(map[presenceKey]string),
		channels:     make(map[channelKey]map[string]struct{}),
		channelNames: make(map[channelKey]string),
		guildNames:   make(map[string]string),
	}
}

// Join records a user entering a voice channel.
func (t *voiceTracker) Join(guildID, channelID, userID, channelName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.join(guildID, channelID, userID, channelName)
	t.refreshChannelGauges(channelKey{guildID, channelID})
}

// Leave records a user disconnecting from voice.
func (t *voiceTracker) Leave(guildID, channelID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leave(guildID, channelID, userID)
	t.refreshChannelGauges(channelKey{guildID, channelID})
}

// Move records a user switching voice channels within a guild.
func (t *voiceTracker) Move(guildID, fromChannelID, toChannelID, userID, channelName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leave(guildID, fromChannelID, userID)
	t.join(guildID, toChannelID, userID, channelName)
	t.refreshChannelGauges(channelKey{guildID, fromChannelID})
	t.refreshChannelGauges(channelKey{guildID, toChannelID})
}

// SetGuildName caches the guild name used for the union counter labels.
func (t *voiceTracker) SetGuildName(guildID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name != "" {
		t.guildNames[guildID] = name
	}
}

// Observe replaces the tracked presence for one guild with a polled
// snapshot. Channels that emptied since the previous observation have
// their gauges zeroed.
func (t *voiceTracker) Observe(snap guildSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.guildName != "" {
		t.guildNames[snap.guildID] = snap.guildName
	}

	touched := make(map[channelKey]struct{})
	for key := range t.channels {
		if key.guildID == snap.guildID {
			touched[key] = struct{}{}
		}
	}
	for key, channelID := range t.users {
		if key.guildID == snap.guildID {
			touched[channelKey{snap.guildID, channelID}] = struct{}{}
			delete(t.users, key)
		}
	}
	for key := range touched {
		delete(t.channels, key)
	}

	for channelID, occ := range snap.channels {
		key := channelKey{snap.guildID, channelID}
		touched[key] = struct{}{}
		if occ.name != "" {
			t.channelNames[key] = occ.name
		}
		for _, userID := range occ.users {
			t.join(snap.guildID, channelID, userID, occ.name)
		}
	}

	for key := range touched {
		t.refreshChannelGauges(key)
	}
}

// Accrue adds the elapsed duration to every present user, every occupied
// channel, and every guild with at least one occupied channel. Non-positive
// durations accrue nothing.
func (t *voiceTracker) Accrue(dt time.Duration) {
	if dt <= 0 {
		return
	}
	secs := dt.Seconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.users {
		voiceUserSeconds.WithLabelValues(key.guildID, key.userID).Add(secs)
	}

	activeGuilds := make(map[string]struct{})
	for key, occupants := range t.channels {
		if len(occupants) == 0 {
			continue
		}
		voiceChannelActiveSeconds.WithLabelValues(key.guildID, key.channelID, t.channelName(key)).Add(secs)
		activeGuilds[key.guildID] = struct{}{}
	}

	for guildID := range activeGuilds {
		voiceGuildActiveSeconds.WithLabelValues(guildID, t.guildName(guildID)).Add(secs)
	}
}

func (t *voiceTracker) join(guildID, channelID, userID, channelName string) {
	key := presenceKey{guildID, userID}
	if prev, ok := t.users[key]; ok && prev != channelID {
		// Missed a leave event; reconcile before re-adding.
		t.leave(guildID, prev, userID)
	}
	t.users[key] = channelID

	ck := channelKey{guildID, channelID}
	if channelName != "" {
		t.channelNames[ck] = channelName
	}
	occupants := t.channels[ck]
	if occupants == nil {
		occupants = make(map[string]struct{})
		t.channels[ck] = occupants
	}
	occupants[userID] = struct{}{}
}

func (t *voiceTracker) leave(guildID, channelID, userID string) {
	delete(t.users, presenceKey{guildID, userID})
	ck := channelKey{guildID, channelID}
	if occupants := t.channels[ck]; occupants != nil {
		delete(occupants, userID)
		if len(occupants) == 0 {
			delete(t.channels, ck)
		}
	}
}

func (t *voiceTracker) refreshChannelGauges(key channelKey) {
	occupants := len(t.channels[key])
	name := t.channelName(key)
	voiceChannelUsers.WithLabelValues(key.guildID, key.channelID, name).Set(float64(occupants))
	active := 0.0
	if occupants > 0 {
		active = 1.0
	}
	voiceChannelActive.WithLabelValues(key.guildID, key.channelID, name).Set(active)
}

func (t *voiceTracker) channelName(key channelKey) string {
	if name, ok := t.channelNames[key]; ok {
		return name
	}
	return "id:" + key.channelID
}

func (t *voiceTracker) guildName(guildID string) string {
	if name, ok := t.guildNames[guildID]; ok {
		return name
	}
	return "id:" + guildID
}
