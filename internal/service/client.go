package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/tts"
)

// Client is the calling side of one capability: exactly one send, then
// exactly one receive, per call. A client whose connect failed is unavailable
// and every call returns conn.ErrUnavailable.
type Client struct {
	name string
	conn *conn.Conn
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewClient wraps an established connection. A nil conn makes an unavailable client.
func NewClient(name string, c *conn.Conn, log zerolog.Logger) *Client {
	return &Client{
		name: name,
		conn: c,
		log:  log.With().Str("capability", name).Logger(),
	}
}

// DialClient connects to a capability with bounded retry. On failure it
// returns the error together with an unavailable, still usable, client.
func DialClient(ctx context.Context, name, addr string, maxRetries int, retryDelay time.Duration, log zerolog.Logger, opts ...conn.Option) (*Client, error) {
	opts = append([]conn.Option{conn.WithLogger(log.With().Str("capability", name).Logger())}, opts...)
	c, err := conn.Dial(ctx, addr, maxRetries, retryDelay, opts...)
	if err != nil {
		return NewClient(name, nil, log), err
	}
	return NewClient(name, c, log), nil
}

// Name returns the capability name.
func (c *Client) Name() string { return c.name }

// Available reports whether the client ever connected.
func (c *Client) Available() bool { return c.conn != nil }

// Close closes the connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call sends req and waits for the single response.
func (c *Client) Call(ctx context.Context, req string) (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%s: %w", c.name, conn.ErrUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	if err := c.conn.Send(req); err != nil {
		return "", c.wrap(ctx, err)
	}
	for {
		resp, err := c.conn.Recv()
		if err != nil {
			return "", c.wrap(ctx, err)
		}
		if resp != "" {
			c.log.Debug().Str("response", resp).Msg("Response received")
			return resp, nil
		}
	}
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w", c.name, err)
}

// TranscriberClient calls the speech-to-text capability.
type TranscriberClient struct{ *Client }

// Transcribe sends a WAV path and returns the text or EmptySpeech.
func (c TranscriberClient) Transcribe(ctx context.Context, wavPath string) (string, error) {
	return c.Call(ctx, wavPath)
}

// GeneratorClient calls the language-model capability.
type GeneratorClient struct{ *Client }

// Generate sends a prompt and returns the reply.
func (c GeneratorClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Call(ctx, prompt)
}

// ActionClient calls the action capability.
type ActionClient struct{ *Client }

// React sends the reply text and waits for ActionDone.
func (c ActionClient) React(ctx context.Context, text string) error {
	resp, err := c.Call(ctx, text)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp) != ActionDone {
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, ActionDone, resp)
	}
	return nil
}

// SpeechClient calls the synthesis capability, whose answer comes in two
// parts: StartReading then FinishReading.
type SpeechClient struct{ *Client }

// ReadAloud sends text and returns at once; the Reading reports the two
// acknowledgements as they arrive. Both may arrive in a single read.
// The client stays busy until the Reading is done.
func (c SpeechClient) ReadAloud(ctx context.Context, text string) (*tts.Reading, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%s: %w", c.name, conn.ErrUnavailable)
	}

	c.mu.Lock()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })

	if err := c.conn.Send(text); err != nil {
		stop()
		c.mu.Unlock()
		return nil, c.wrap(ctx, err)
	}

	r := tts.NewReading()
	go func() {
		defer c.mu.Unlock()
		defer stop()

		err := c.awaitAcks(r)
		if err != nil {
			err = c.wrap(ctx, err)
		}
		r.Finish(err)
	}()
	return r, nil
}

func (c SpeechClient) awaitAcks(r *tts.Reading) error {
	pending := ""
recv:
	for {
		msg, err := c.conn.Recv()
		if err != nil {
			return err
		}
		pending += msg

		for {
			pending = strings.TrimSpace(pending)
			switch {
			case strings.HasPrefix(pending, StartReading):
				pending = pending[len(StartReading):]
				c.log.Debug().Msg("Reading started")
				r.Start()
			case strings.HasPrefix(pending, FinishReading), strings.HasPrefix(pending, StopReading):
				rest := strings.TrimPrefix(strings.TrimPrefix(pending, FinishReading), StopReading)
				if rest = strings.TrimSpace(rest); rest != "" {
					c.log.Warn().Str("extra", rest).Msg("Ignoring bytes after finish acknowledgement")
				}
				c.log.Debug().Msg("Reading finished")
				return nil
			case pending == "" || isAckPrefix(pending):
				continue recv
			default:
				return fmt.Errorf("%w: unexpected %q while reading aloud", ErrProtocol, pending)
			}
		}
	}
}

// IsUnavailable reports whether err means the capability never connected.
func IsUnavailable(err error) bool {
	return errors.Is(err, conn.ErrUnavailable)
}
