package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const (
	soundFileSetting   = "browse"
	soundFormatSetting = "type"

	soundDefaultFile   = "--enter path--"
	soundDefaultFormat = "wav"

	soundFileFilter = "Audio Files (*.wav *.ogg *.mp3 *.aac *.m4a *.flac *.alac *.aiff *.wma *.pcm *.opus *.ape *.vorbis);;All Files (*.*)"
)

var errNoSoundFile = errors.New("no sound file selected")

// SoundAction plays an audio file through an external player.
type SoundAction struct {
	name      string
	player    Player
	variables *Variables
	logger    *slog.Logger
}

func NewSoundAction(name string, player Player, variables *Variables, logger *slog.Logger) *SoundAction {
	return &SoundAction{
		name:      name,
		player:    player,
		variables: variables,
		logger:    logger,
	}
}

// Segment returns the descriptor registered with the host.
func (a *SoundAction) Segment() Segment {
	return Segment{
		Kind:            SegmentAction,
		Name:            a.name,
		Run:             a.Run,
		Properties:      soundProperties,
		DefaultSettings: soundDefaults(),
	}
}

// Run plays the configured file. ${var} tokens in both settings are expanded
// before use.
func (a *SoundAction) Run(ctx context.Context, settings *Settings, instanceID int64) (bool, error) {
	file := strings.TrimSpace(a.variables.Expand(settings.String(soundFileSetting)))
	format := strings.TrimSpace(a.variables.Expand(settings.String(soundFormatSetting)))

	if file == "" || file == soundDefaultFile {
		return false, errNoSoundFile
	}
	if format == "" {
		format = soundDefaultFormat
	}

	a.logger.Info("playing sound", "instance_id", instanceID, "file", file, "format", format)
	if err := a.player.Play(ctx, file, format); err != nil {
		return false, err
	}
	return true, nil
}

func soundProperties() *Properties {
	return NewProperties().
		AddPath(soundFileSetting, "File:", PathFile, soundFileFilter, "").
		AddText(soundFormatSetting, "Type:", TextDefault)
}

func soundDefaults() *Settings {
	s := NewSettings()
	s.SetDefaultString(soundFileSetting, soundDefaultFile)
	s.SetDefaultString(soundFormatSetting, soundDefaultFormat)
	return s
}
