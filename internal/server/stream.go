package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/transcribe"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Warn("stream: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	ctx := r.Context()
	sess := &streamSession{
		srv:      s,
		conn:     conn,
		id:       uuid.NewString(),
		language: s.cfg.DefaultLanguage,
		log:      observe.Logger(r.Context()).With("stream", r.RemoteAddr),
	}
	sess.log = sess.log.With("session_id", sess.id)

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	sess.log.Info("stream opened")
	if err := sess.run(ctx); err != nil {
		sess.log.Warn("stream ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	sess.log.Info("stream closed", "chunks", sess.chunks, "bytes", len(sess.buf))
}

// streamSession is the server side of one /stream connection. All fields
// are owned by the goroutine running [streamSession.run].
type streamSession struct {
	srv      *Server
	conn     *websocket.Conn
	id       string
	language string
	log      *slog.Logger

	buf     []byte
	chunks  int
	pending int
}

// run reads frames until the client stops or disconnects. A nil return
// means the connection has been closed cleanly.
func (ss *streamSession) run(ctx context.Context) error {
	for {
		_, data, err := ss.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				ss.log.Debug("client disconnected")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		f, err := transcribe.Decode(data)
		if err != nil {
			ss.log.Debug("malformed frame", "err", err)
			if err := ss.send(ctx, transcribe.ErrorFrame("malformed frame")); err != nil {
				return err
			}
			continue
		}

		switch f.Type {
		case transcribe.FrameConfig:
			ss.language = cmp.Or(f.Language, ss.srv.cfg.DefaultLanguage)
			ss.log.Debug("stream configured", "language", ss.language)
			if err := ss.send(ctx, transcribe.ReadyFrame()); err != nil {
				return err
			}

		case transcribe.FrameAudio:
			if err := ss.handleAudio(ctx, f); err != nil {
				return err
			}

		case transcribe.FrameStop:
			if len(ss.buf) > 0 {
				if err := ss.emit(ctx); err != nil {
					return err
				}
			}
			if err := ss.send(ctx, transcribe.DoneFrame()); err != nil {
				return err
			}
			if err := ss.conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
				ss.log.Debug("close after done", "err", err)
			}
			return nil

		default:
			if err := ss.send(ctx, transcribe.ErrorFrame(fmt.Sprintf("unexpected frame type %q", f.Type))); err != nil {
				return err
			}
		}
	}
}

func (ss *streamSession) handleAudio(ctx context.Context, f transcribe.Frame) error {
	chunk, err := f.Audio()
	if err != nil {
		return ss.send(ctx, transcribe.ErrorFrame("invalid audio payload"))
	}
	if audio.IsWAV(chunk) {
		chunk, err = ss.srv.decoder.Decode(ctx, chunk)
		if err != nil {
			return ss.send(ctx, transcribe.ErrorFrame(err.Error()))
		}
	}
	if len(chunk)%2 != 0 {
		return ss.send(ctx, transcribe.ErrorFrame("audio chunk is not 16-bit aligned"))
	}

	ss.buf = append(ss.buf, chunk...)
	ss.chunks++
	ss.pending++
	ss.srv.metrics.AudioChunks.Add(ctx, 1)

	if ss.pending < ss.srv.cfg.BatchSize {
		return nil
	}
	return ss.emit(ctx)
}

// emit recognises the whole buffer and sends the cumulative transcript.
// Recognition failures are reported to the client and the session goes on.
func (ss *streamSession) emit(ctx context.Context) error {
	ss.pending = 0
	if t := ss.srv.cfg.SilenceThreshold; t > 0 && audio.RMS(ss.buf) < t {
		ss.log.Debug("skipping silent buffer", "bytes", len(ss.buf))
		return nil
	}

	res, err := ss.srv.recognize(ctx, ss.buf, ss.language)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		ss.log.Error("stream recognition failed", "bytes", len(ss.buf), "err", err)
		return ss.send(ctx, transcribe.ErrorFrame(err.Error()))
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil
	}
	ss.srv.metrics.TranscriptFrames.Add(ctx, 1)
	return ss.send(ctx, transcribe.TranscriptFrame(text))
}

func (ss *streamSession) send(ctx context.Context, f transcribe.Frame) error {
	data, err := transcribe.Encode(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, ss.srv.cfg.WriteTimeout)
	defer cancel()
	if err := ss.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}
