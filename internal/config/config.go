package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the zone tuning file. Intervals are milliseconds, matching the
// wire protocol's time unit.
type Config struct {
	PingIntervalMS    int `yaml:"ping_interval_ms"`
	SaveIntervalMS    int `yaml:"save_interval_ms"`
	ReconnectGraceMS  int `yaml:"reconnect_grace_ms"`
	CachePurgeEveryMS int `yaml:"cache_purge_every_ms"`

	NameLengthLimit int `yaml:"name_length_limit"`
	ChatLengthLimit int `yaml:"chat_length_limit"`
	EchoLengthLimit int `yaml:"echo_length_limit"`

	PerUserQueueLimit int     `yaml:"per_user_queue_limit"`
	VoteSkipThreshold float64 `yaml:"vote_skip_threshold"`

	PlaybackStartDelayMS int `yaml:"playback_start_delay_ms"`

	// Non-admin block edits are confined to X below this boundary.
	BuildBoundaryX int `yaml:"build_boundary_x"`
	MaxBlockValue  int `yaml:"max_block_value"`

	JoinPassword string `yaml:"join_password,omitempty"`
	AuthPassword string `yaml:"auth_password,omitempty"`

	MediaCacheTTLMS int `yaml:"media_cache_ttl_ms"`
}

func Defaults() Config {
	return Config{
		PingIntervalMS:    10_000,
		SaveIntervalMS:    60_000,
		ReconnectGraceMS:  5_000,
		CachePurgeEveryMS: 30 * 60 * 1000,

		NameLengthLimit: 16,
		ChatLengthLimit: 160,
		EchoLengthLimit: 512,

		PerUserQueueLimit: 3,
		VoteSkipThreshold: 0.6,

		PlaybackStartDelayMS: 3_000,

		BuildBoundaryX: -7,
		MaxBlockValue:  8,

		MediaCacheTTLMS: 4 * 60 * 60 * 1000,
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("zone.yaml: %w", err)
	}
	return c, nil
}

func (c Config) PingInterval() time.Duration       { return time.Duration(c.PingIntervalMS) * time.Millisecond }
func (c Config) SaveInterval() time.Duration       { return time.Duration(c.SaveIntervalMS) * time.Millisecond }
func (c Config) ReconnectGrace() time.Duration     { return time.Duration(c.ReconnectGraceMS) * time.Millisecond }
func (c Config) CachePurgeEvery() time.Duration    { return time.Duration(c.CachePurgeEveryMS) * time.Millisecond }
func (c Config) PlaybackStartDelay() time.Duration { return time.Duration(c.PlaybackStartDelayMS) * time.Millisecond }
func (c Config) MediaCacheTTL() time.Duration      { return time.Duration(c.MediaCacheTTLMS) * time.Millisecond }
