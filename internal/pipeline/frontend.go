package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/config"
	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/service"
)

// DefaultApology is said when the recording held no speech.
const DefaultApology = "Sorry, I can't hear you clearly. Please try again."

// Transcriber turns a WAV path into text or service.EmptySpeech.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Generator answers a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reactor speaks and animates a reply.
type Reactor interface {
	React(ctx context.Context, text string) error
}

// Turn is the outcome of one utterance.
type Turn struct {
	ID      string
	WAVPath string
	Prompt  string
	Reply   string
	// Empty is set when the recording held no speech and the apology was used.
	Empty bool
	// Acted is set once the action capability acknowledged the reply.
	Acted bool
}

// Frontend drives the capabilities in sequence, one turn at a time.
type Frontend struct {
	STT     Transcriber
	LLM     Generator
	Action  Reactor
	Apology string
	Out     io.Writer
	Log     zerolog.Logger

	closers   []io.Closer
	styleOnce sync.Once
	me, bot   lipgloss.Style
}

type dialTarget struct {
	name   string
	addr   string
	bufLen int
	bind   func(*service.Client)
}

// Connect dials the transcription, generation and action capabilities with
// bounded retry. A capability that cannot be reached is logged and left
// unavailable; only ctx ending is an error.
func Connect(ctx context.Context, cfg *config.Config, out io.Writer, log zerolog.Logger) (*Frontend, error) {
	f := &Frontend{Apology: cfg.Frontend.Apology, Out: out, Log: log}
	targets := []dialTarget{
		{service.CapabilitySTT, cfg.STT.Addr, cfg.STT.RecvBufLen, func(c *service.Client) { f.STT = service.TranscriberClient{Client: c} }},
		{service.CapabilityLLM, cfg.LLM.Addr, cfg.LLM.RecvBufLen, func(c *service.Client) { f.LLM = service.GeneratorClient{Client: c} }},
		{service.CapabilityAction, cfg.Action.Addr, cfg.Action.RecvBufLen, func(c *service.Client) { f.Action = service.ActionClient{Client: c} }},
	}

	for _, t := range targets {
		c, err := service.DialClient(ctx, t.name, t.addr,
			cfg.Connection.MaxRetries, cfg.Connection.RetryDelay, log,
			conn.WithRecvBufLen(t.bufLen))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				f.Close()
				return nil, ctxErr
			}
			log.Error().Err(err).Str("capability", t.name).Str("addr", t.addr).Msg("Capability unavailable")
		} else {
			log.Info().Str("capability", t.name).Str("addr", t.addr).Msg("Connected")
		}
		f.closers = append(f.closers, c)
		t.bind(c)
	}
	return f, nil
}

// Close closes the capability connections.
func (f *Frontend) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}

func (f *Frontend) out() io.Writer {
	if f.Out == nil {
		return os.Stdout
	}
	return f.Out
}

func (f *Frontend) styles() (lipgloss.Style, lipgloss.Style) {
	f.styleOnce.Do(func() {
		r := lipgloss.NewRenderer(f.out())
		f.me = r.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
		f.bot = r.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	})
	return f.me, f.bot
}

func (f *Frontend) say(style lipgloss.Style, label, text string) {
	fmt.Fprintf(f.out(), "%s %s\n", style.Render(label), text)
}

// Turn runs one utterance through the pipeline: transcribe, then either the
// apology (no speech) or generate and react. A transcript of EmptySpeech
// never reaches the generation or action capabilities.
func (f *Frontend) Turn(ctx context.Context, wavPath string) (Turn, error) {
	t := Turn{ID: uuid.NewString(), WAVPath: wavPath}
	log := f.Log.With().Str("turn", t.ID).Logger()
	me, bot := f.styles()

	if f.STT == nil {
		return t, fmt.Errorf("%s: %w", service.CapabilitySTT, conn.ErrUnavailable)
	}
	prompt, err := f.STT.Transcribe(ctx, wavPath)
	if err != nil {
		return t, fmt.Errorf("transcribe: %w", err)
	}
	t.Prompt = prompt
	f.say(me, "ME  >>", prompt)

	if prompt == service.EmptySpeech {
		t.Empty = true
		t.Reply = f.Apology
		if t.Reply == "" {
			t.Reply = DefaultApology
		}
		f.say(bot, "BOT >>", t.Reply)
		fmt.Fprintln(f.out())
		log.Debug().Str("wav", wavPath).Msg("No speech in recording")
		return t, nil
	}

	if f.LLM == nil {
		return t, fmt.Errorf("%s: %w", service.CapabilityLLM, conn.ErrUnavailable)
	}
	reply, err := f.LLM.Generate(ctx, prompt)
	if err != nil {
		return t, fmt.Errorf("generate: %w", err)
	}
	t.Reply = reply
	f.say(bot, "BOT >>", reply)
	fmt.Fprintln(f.out())

	if f.Action == nil {
		log.Warn().Msg("Action capability unavailable, reply not spoken")
		return t, nil
	}
	if err := f.Action.React(ctx, reply); err != nil {
		if service.IsUnavailable(err) {
			log.Warn().Err(err).Msg("Action capability unavailable, reply not spoken")
			return t, nil
		}
		return t, fmt.Errorf("react: %w", err)
	}
	t.Acted = true
	log.Debug().Str("wav", wavPath).Msg("Turn complete")
	return t, nil
}

// Run takes utterances from src and runs a turn for each until the source is
// exhausted or ctx ends. A turn failing because a capability never connected
// is logged and skipped; any other failure ends the loop.
func (f *Frontend) Run(ctx context.Context, src Source) error {
	for {
		u, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next utterance: %w", err)
		}

		_, err = f.Turn(ctx, u.Path)
		if u.Done != nil {
			u.Done()
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if service.IsUnavailable(err) {
			f.Log.Warn().Err(err).Str("wav", u.Path).Msg("Turn skipped")
			continue
		}
		return err
	}
}
