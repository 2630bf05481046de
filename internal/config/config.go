// Package config loads tracker tuning from an optional YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ConvoFlow/internal/emotion"
	"github.com/BTreeMap/ConvoFlow/internal/flow"
	"github.com/BTreeMap/ConvoFlow/internal/util"
)

// Environment variables that override the tuning file.
const (
	EnvEmotionalIntensityThreshold = "CONVOFLOW_EMOTIONAL_INTENSITY_THRESHOLD"
	EnvDecayAfter                  = "CONVOFLOW_DECAY_AFTER"
	EnvIdleTTL                     = "CONVOFLOW_IDLE_TTL"
	EnvTopicThreadCap              = "CONVOFLOW_TOPIC_THREAD_CAP"
	EnvHistoryCap                  = "CONVOFLOW_HISTORY_CAP"
	EnvLLMEmotion                  = "CONVOFLOW_LLM_EMOTION"
)

// Settings is the full tuning surface.
type Settings struct {
	Flow flow.Config `yaml:"flow"`
	// EmotionRules replaces the keyword classifier vocabulary when set.
	EmotionRules []emotion.Rule `yaml:"emotion_rules"`
	LLMEmotion   bool           `yaml:"llm_emotion"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{Flow: flow.DefaultConfig()}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("config.Load: read failed", "path", path, "error", err)
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &s); err != nil {
			slog.Error("config.Load: decode failed", "path", path, "error", err)
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		slog.Debug("config.Load: tuning file applied", "path", path)
	}
	applyEnv(&s)
	if err := s.Flow.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// decode rejects unknown keys so typos in the tuning file are not silently
// ignored. An empty document leaves s untouched.
func decode(data []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(s *Settings) {
	c := &s.Flow
	c.EmotionalIntensityThreshold = util.ParseFloatEnv(EnvEmotionalIntensityThreshold, c.EmotionalIntensityThreshold)
	c.DecayAfter = util.ParseDurationEnv(EnvDecayAfter, c.DecayAfter)
	c.IdleTTL = util.ParseDurationEnv(EnvIdleTTL, c.IdleTTL)
	c.TopicThreadCap = util.ParseIntEnv(EnvTopicThreadCap, c.TopicThreadCap)
	c.HistoryCap = util.ParseIntEnv(EnvHistoryCap, c.HistoryCap)
	s.LLMEmotion = util.ParseBoolEnv(EnvLLMEmotion, s.LLMEmotion)
}
