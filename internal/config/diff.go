package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	VocabularyChanged bool

	// RestartRequired lists the sections that changed but cannot be applied
	// to a running process.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguageChanged && !d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Transcription.Language != new.Transcription.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Transcription.Language
	}
	if !slices.Equal(old.Vocabulary.Files, new.Vocabulary.Files) ||
		!slices.Equal(old.Vocabulary.Terms, new.Vocabulary.Terms) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.LLMVerify != new.Vocabulary.LLMVerify {
		d.VocabularyChanged = true
	}

	// Hot-reloadable fields are blanked before comparing the rest.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldTr, newTr := old.Transcription, new.Transcription
	oldTr.Language, newTr.Language = "", ""

	for _, section := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"transcription", oldTr, newTr},
		{"capture", old.Capture, new.Capture},
		{"providers", old.Providers, new.Providers},
		{"storage", old.Storage, new.Storage},
		{"notes", old.Notes, new.Notes},
	} {
		if !reflect.DeepEqual(section.old, section.new) {
			d.RestartRequired = append(d.RestartRequired, section.name)
		}
	}
	return d
}
