package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(voiceUserSeconds)
	prometheus.MustRegister(voiceChannelActiveSeconds)
	prometheus.MustRegister(voiceGuildActiveSeconds)
	prometheus.MustRegister(voiceChannelActive)
	prometheus.MustRegister(voiceChannelUsers)
	prometheus.MustRegister(userInfo)
	prometheus.MustRegister(memberInfo)
	prometheus.MustRegister(samplerTicks)
}

var voiceUserSeconds = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "discord_voice_user_seconds_total",
		Help: "Cumulative seconds a user has spent in any voice channel.",
	},
	[]string{"guild_id", "user_id"},
)

var voiceChannelActiveSeconds = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "discord_voice_channel_active_seconds_total",
		Help: "Cumulative seconds a voice channel had at least one user.",
	},
	[]string{"guild_id", "channel_id", "channel_name"},
)

var voiceGuildActiveSeconds = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "discord_voice_guild_active_seconds_total",
		Help: "Cumulative seconds a guild had at least one user in any voice channel.",
	},
	[]string{"guild_id", "guild_name"},
)

var voiceChannelActive = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "discord_voice_channel_active",
		Help: "1 if the voice channel has at least one user, else 0.",
	},
	[]string{"guild_id", "channel_id", "channel_name"},
)

var voiceChannelUsers = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "discord_voice_channel_users",
		Help: "Current number of users in the voice channel.",
	},
	[]string{"guild_id", "channel_id", "channel_name"},
)

var userInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "discord_user_info",
		Help: "Latest known username and global name for a user id.",
	},
	[]string{"user_id", "username", "global_name"},
)

var memberInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "discord_member_info",
		Help: "Latest known display name for a user id within a guild.",
	},
	[]string{"guild_id", "user_id", "display_name"},
)

var samplerTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "discord_voice_sampler_ticks_total",
		Help: "Total sampler ticks by status. Error ticks are skipped and accrue no time.",
	},
	[]string{"status"},
)

// setUserInfoMetric replaces the info series for the user so a rename does
// not leave a stale series behind.
func setUserInfoMetric(userID, username, globalName string) {
	userInfo.DeletePartialMatch(prometheus.Labels{"user_id": userID})
	userInfo.WithLabelValues(userID, username, globalName).Set(1)
}

func setMemberInfoMetric(guildID, userID, displayName string) {
	memberInfo.DeletePartialMatch(prometheus.Labels{"guild_id": guildID, "user_id": userID})
	memberInfo.WithLabelValues(guildID, userID, displayName).Set(1)
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
