// Package config defines the Kong-annotated CLI/configuration struct for
// wheelbridge, covering every option enumerated in spec.md §6. Values are
// layered JSON/YAML/TOML config file < flags < environment, following the
// teacher's own precedence (see cmd/wheelbridge's kong.Configuration chain).
package config

import (
	"os"
	"strconv"
	"time"
)

// Bridge holds the sidecar target/executable override options.
type Bridge struct {
	Target string `help:"Emulated controller class" enum:"x360,ds4,dkbridge" default:"x360" env:"WHEELBRIDGE_BRIDGE_TARGET"`
	Exe    string `help:"Path to the platform bridge sidecar executable" default:"" env:"WHEELBRIDGE_BRIDGE_EXE"`
}

// FFB holds the FeedbackMixer's runtime-reconfigurable tuning.
type FFB struct {
	Mode    string  `help:"Feedback blend mode" enum:"passthrough,synthetic,hybrid" default:"hybrid" env:"WHEELBRIDGE_FFB_MODE"`
	StaleMs int     `help:"Passthrough staleness cutoff in milliseconds" default:"500" env:"WHEELBRIDGE_FFB_STALE_MS"`
	GainL   float64 `help:"Synthetic left rumble gain" default:"1.0" env:"WHEELBRIDGE_FFB_GAIN_L"`
	GainR   float64 `help:"Synthetic right rumble gain" default:"1.0" env:"WHEELBRIDGE_FFB_GAIN_R"`
}

// Audio holds the audio-feature helper override.
type Audio struct {
	Helper string `help:"Path to the platform audio-feature helper executable; empty disables audio-derived haptics" default:"" env:"WHEELBRIDGE_AUDIO_HELPER"`
}

// Log mirrors the teacher's own logging options.
type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"WHEELBRIDGE_LOG_LEVEL"`
	File    string `help:"Optional log file path, in addition to stderr" default:"" env:"WHEELBRIDGE_LOG_FILE"`
	RawFile string `help:"Optional raw UDP/audio-helper trace log file" default:"" env:"WHEELBRIDGE_LOG_RAW_FILE"`
}

// Config is the single in-memory struct driving the bridge, spec.md §4.8:
// mutable only via explicit Reconfigure calls, never mutated in place by
// another goroutine.
type Config struct {
	ConfigPath string `name:"config" help:"Path to an explicit config file (JSON/YAML/TOML)" env:"WHEELBRIDGE_CONFIG"`

	UdpPort       int           `help:"UDP listen port" default:"8765" env:"WHEELBRIDGE_UDP_PORT"`
	PeerGraceMs   int           `help:"Grace window before a new UDP peer can be adopted, in milliseconds" default:"750" env:"WHEELBRIDGE_PEER_GRACE_MS"`
	IdleTimeoutMs int           `help:"Session idle timeout in milliseconds" default:"3000" env:"WHEELBRIDGE_IDLE_TIMEOUT_MS"`
	TickHz        int           `help:"Session loop tick rate" default:"60" env:"WHEELBRIDGE_TICK_HZ"`
	KeepaliveMs   int           `help:"Max silence to the sidecar before a forced keepalive push, in milliseconds" default:"90" env:"WHEELBRIDGE_KEEPALIVE_MS"`
	LatchTicks    int           `help:"Button release hold-off, in ticks" default:"3" env:"WHEELBRIDGE_LATCH_TICKS"`
	Expo          float64       `help:"Steering expo curve strength" default:"0.22" env:"WHEELBRIDGE_EXPO"`
	Deadzone      float64       `help:"Steering deadzone" default:"0.06" env:"WHEELBRIDGE_DEADZONE"`

	Bridge Bridge `embed:"" prefix:"bridge."`
	FFB    FFB    `embed:"" prefix:"ffb."`
	Audio  Audio  `embed:"" prefix:"audio."`
	Log    Log    `embed:"" prefix:"log."`
}

// TickPeriod derives the session loop's tick period from TickHz.
func (c Config) TickPeriod() time.Duration {
	if c.TickHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickHz)
}

// PeerGrace returns PeerGraceMs as a Duration.
func (c Config) PeerGrace() time.Duration { return time.Duration(c.PeerGraceMs) * time.Millisecond }

// IdleTimeout returns IdleTimeoutMs as a Duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Keepalive returns KeepaliveMs as a Duration.
func (c Config) Keepalive() time.Duration { return time.Duration(c.KeepaliveMs) * time.Millisecond }

// FFBStale returns FFB.StaleMs as a Duration.
func (c Config) FFBStale() time.Duration {
	return time.Duration(c.FFB.StaleMs) * time.Millisecond
}

// Patch carries a subset of reconfigurable fields; nil pointers mean "leave
// unchanged". Only the fields actually reconfigurable in spec.md §4.8 are
// represented: UDP binding and tick cadence require a process restart.
type Patch struct {
	ExpoField       *float64
	DeadzoneField   *float64
	LatchTicksField *int
	FFBModeField    *string
	FFBGainL        *float64
	FFBGainR        *float64
}

// Apply merges a Patch into a copy of Config and returns it, leaving the
// receiver untouched; the caller is expected to publish the result
// atomically (see internal/session.Loop.Reconfigure).
func (c Config) Apply(p Patch) Config {
	next := c
	if p.ExpoField != nil {
		next.Expo = *p.ExpoField
	}
	if p.DeadzoneField != nil {
		next.Deadzone = *p.DeadzoneField
	}
	if p.LatchTicksField != nil {
		next.LatchTicks = *p.LatchTicksField
	}
	if p.FFBModeField != nil {
		next.FFB.Mode = *p.FFBModeField
	}
	if p.FFBGainL != nil {
		next.FFB.GainL = *p.FFBGainL
	}
	if p.FFBGainR != nil {
		next.FFB.GainR = *p.FFBGainR
	}
	return next
}

// PatchFromEnv rereads the reconfigurable fields' own environment variables
// and builds a Patch from whichever are currently set, leaving the rest
// nil (unchanged). This is the explicit reconfigure trigger spec.md §4.8
// calls for: flags and config files are fixed at process start, but a
// SIGHUP re-reads these six knobs without a restart (see
// internal/cmd.Serve.Run).
func PatchFromEnv() Patch {
	var p Patch
	if v, ok := os.LookupEnv("WHEELBRIDGE_EXPO"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.ExpoField = &f
		}
	}
	if v, ok := os.LookupEnv("WHEELBRIDGE_DEADZONE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.DeadzoneField = &f
		}
	}
	if v, ok := os.LookupEnv("WHEELBRIDGE_LATCH_TICKS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.LatchTicksField = &n
		}
	}
	if v, ok := os.LookupEnv("WHEELBRIDGE_FFB_MODE"); ok {
		p.FFBModeField = &v
	}
	if v, ok := os.LookupEnv("WHEELBRIDGE_FFB_GAIN_L"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.FFBGainL = &f
		}
	}
	if v, ok := os.LookupEnv("WHEELBRIDGE_FFB_GAIN_R"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.FFBGainR = &f
		}
	}
	return p
}
