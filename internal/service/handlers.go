package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/actor"
	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/llm"
	"github.com/NewComer00/TalkyTalky/internal/stt"
	"github.com/NewComer00/TalkyTalky/internal/tts"
)

// Transcription serves speech-to-text. The request is a WAV path; a blank
// transcript is answered with EmptySpeech.
func Transcription(t stt.Transcriber) Handler {
	return Respond(func(ctx context.Context, req string) (string, error) {
		text, err := t.Transcribe(ctx, strings.TrimSpace(req))
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text == "" {
			return EmptySpeech, nil
		}
		return text, nil
	})
}

// Generation serves the language model. A blank reply is answered with
// EmptyReply.
func Generation(g llm.Generator) Handler {
	return Respond(func(ctx context.Context, req string) (string, error) {
		reply, err := g.Generate(ctx, strings.TrimSpace(req))
		if err != nil {
			return "", err
		}
		if reply = strings.TrimSpace(reply); reply == "" {
			return EmptyReply, nil
		}
		return reply, nil
	})
}

// Speech serves synthesis: StartReading when audio begins, FinishReading once
// playback is over.
func Speech(e tts.Engine) Handler {
	return HandlerFunc(func(ctx context.Context, req string, w ResponseWriter) error {
		r := tts.ReadAloud(ctx, e, req)

		select {
		case <-r.Started():
		case <-r.Done():
		}
		if err := r.Err(); err != nil && !r.HasStarted() {
			return err
		}
		if err := w.Send(StartReading); err != nil {
			return err
		}

		if err := r.Wait(ctx); err != nil {
			return err
		}
		return w.Send(FinishReading)
	})
}

// Action serves the avatar: read the reply aloud while animating, then
// answer ActionDone. When the synthesis capability never connected, the
// request is acknowledged without speech so the dialogue can go on.
func Action(a *actor.Actor, log zerolog.Logger) Handler {
	return Respond(func(ctx context.Context, req string) (string, error) {
		if err := a.Act(ctx, req); err != nil {
			if !errors.Is(err, conn.ErrUnavailable) {
				return "", err
			}
			log.Warn().Err(err).Msg("Synthesis unavailable, skipping speech")
		}
		return ActionDone, nil
	})
}
