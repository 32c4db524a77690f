package app

import (
	"log/slog"

	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/vocab"
)

// WatchConfig polls the configuration file at path and applies hot-reloadable
// changes. The watcher is stopped by Shutdown.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.ApplyConfig, opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	slog.Info("watching config for changes", "path", path)
	return nil
}

// ApplyConfig applies the differences between old and new that can change
// at runtime: log level, default language and vocabulary terms. Everything
// else is logged as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(config.SlogLevel(d.NewLogLevel))
		}
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}

	if d.LanguageChanged {
		a.recorder.SetLanguage(d.NewLanguage)
		slog.Info("config reload: default language changed", "language", d.NewLanguage)
	}

	if d.VocabularyChanged {
		if old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
			old.Vocabulary.LLMVerify != new.Vocabulary.LLMVerify {
			slog.Warn("config reload: phonetic_threshold and llm_verify apply after restart")
		}
		fresh, err := vocab.Build(new.Vocabulary.Files, new.Vocabulary.Terms)
		if err != nil {
			slog.Error("config reload: vocabulary not reloaded", "err", err)
		} else {
			a.vocab.Replace(fresh.Terms()...)
			slog.Info("config reload: vocabulary reloaded", "terms", a.vocab.Len())
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}
