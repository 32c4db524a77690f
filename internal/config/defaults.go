package config

import (
	"os"
	"path/filepath"
	"time"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = "127.0.0.1:8765"
	DefaultServerURL        = "http://" + DefaultListenAddr
	DefaultLanguage         = "en"
	DefaultBatchSize        = 3
	DefaultWorkers          = 2
	DefaultMaxUploadBytes   = 512 << 20
	DefaultConnectTimeout   = 5 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultHealthTimeout    = 2 * time.Second
	DefaultCaptureTimeout   = 5 * time.Second
	DefaultChunkDuration    = time.Second
	DefaultPhoneticMatch    = 0.85
	DefaultEmbeddingDims    = 1536
	DefaultChunkWords       = 180
	DefaultChunkOverlap     = 30
	DefaultTopK             = 6
	DefaultContextShare     = 0.5
	defaultFFmpeg           = "ffmpeg"
	defaultSQLiteFile       = "minutes.db"
	defaultCaptureSocketDir = "minutes"
)

// ApplyDefaults fills every zero-valued setting that has a default.
// It is called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.BatchSize, DefaultBatchSize)
	setDefault(&s.Workers, DefaultWorkers)
	setDefault(&s.DefaultLanguage, DefaultLanguage)
	setDefault(&s.MaxUploadBytes, DefaultMaxUploadBytes)
	setDefault(&s.FFmpegPath, defaultFFmpeg)

	t := &cfg.Transcription
	setDefault(&t.ServerURL, DefaultServerURL)
	setDefault(&t.Language, DefaultLanguage)
	setDefault(&t.ConnectTimeout, DefaultConnectTimeout)
	setDefault(&t.StopTimeout, DefaultStopTimeout)
	setDefault(&t.HealthTimeout, DefaultHealthTimeout)

	c := &cfg.Capture
	setDefault(&c.Mode, CaptureInProcess)
	setDefault(&c.Source, "microphone")
	setDefault(&c.SocketPath, defaultSocketPath())
	setDefault(&c.FFmpegPath, defaultFFmpeg)
	setDefault(&c.StopTimeout, DefaultCaptureTimeout)
	setDefault(&c.ChunkDuration, DefaultChunkDuration)

	st := &cfg.Storage
	setDefault(&st.Driver, StorageSQLite)
	if st.Driver == StorageSQLite {
		setDefault(&st.DSN, defaultSQLiteFile)
	}
	setDefault(&st.EmbeddingDimensions, DefaultEmbeddingDims)

	setDefault(&cfg.Vocabulary.PhoneticThreshold, DefaultPhoneticMatch)

	n := &cfg.Notes
	setDefault(&n.ChunkWords, DefaultChunkWords)
	setDefault(&n.ChunkOverlap, DefaultChunkOverlap)
	setDefault(&n.TopK, DefaultTopK)
	setDefault(&n.ContextShare, DefaultContextShare)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// defaultSocketPath prefers $XDG_RUNTIME_DIR, which is private to the user.
func defaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, defaultCaptureSocketDir, "capture.sock")
}
