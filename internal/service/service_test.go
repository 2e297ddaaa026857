package service

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewComer00/TalkyTalky/internal/actor"
	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/metrics"
	"github.com/NewComer00/TalkyTalky/internal/stt"
	"github.com/NewComer00/TalkyTalky/internal/tts"
)

type harness struct {
	client *Client
	served chan error
	cancel context.CancelFunc
}

// startSession serves h on a loopback port and dials it.
func startSession(t *testing.T, name string, h Handler, m *metrics.Metrics) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l, err := conn.NewListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		c, err := l.Accept(ctx, 20*time.Millisecond)
		if err != nil {
			served <- err
			return
		}
		served <- Serve(ctx, &Session{Name: name, Conn: c, Handler: h, Metrics: m, Log: zerolog.Nop()})
	}()

	client, err := DialClient(ctx, name, l.Addr().String(), 3, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &harness{client: client, served: served, cancel: cancel}
}

func waitServed(t *testing.T, h *harness) error {
	t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestServe_ResponseOnlyAfterProcessing(t *testing.T) {
	release := make(chan struct{})
	var processed atomic.Bool
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		<-release
		processed.Store(true)
		return "echo:" + req, nil
	}), nil)

	type result struct {
		resp string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := h.client.Call(context.Background(), "hello")
		got <- result{resp, err}
	}()

	select {
	case r := <-got:
		t.Fatalf("response %q arrived before processing finished", r.resp)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	r := <-got
	require.NoError(t, r.err)
	assert.True(t, processed.Load())
	assert.Equal(t, "echo:hello", r.resp)
}

func TestServe_SerializesRequests(t *testing.T) {
	var inFlight, maxInFlight int32
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return req, nil
	}), nil)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			_, err := h.client.Call(context.Background(), "x")
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestServe_PeerClosedIsFatal(t *testing.T) {
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		return req, nil
	}), nil)

	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, waitServed(t, h), conn.ErrPeerClosed)
}

func TestServe_HandlerErrorIsFatal(t *testing.T) {
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		return "", errors.New("model crashed")
	}), nil)

	_, err := h.client.Call(context.Background(), "hi")
	assert.ErrorIs(t, err, conn.ErrPeerClosed)

	err = waitServed(t, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestServe_NoResponseIsProtocolError(t *testing.T) {
	h := startSession(t, "test", HandlerFunc(func(ctx context.Context, req string, w ResponseWriter) error {
		return nil
	}), nil)

	require.NoError(t, h.client.conn.Send("hi"))
	assert.ErrorIs(t, waitServed(t, h), ErrProtocol)
}

func TestServe_StopsWithContext(t *testing.T) {
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		return req, nil
	}), nil)

	h.cancel()
	assert.ErrorIs(t, waitServed(t, h), context.Canceled)
}

func TestServe_RecordsMetricsAndEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := startSession(t, CapabilityLLM, Generation(echoGenerator{}), m)

	for i := 0; i < 3; i++ {
		_, err := h.client.Call(context.Background(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestCount.WithLabelValues(CapabilityLLM)))
}

func TestServe_PublishesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewEventBus()
	events := make(chan bus.Event, 4)
	for _, et := range []bus.EventType{bus.EventTypeCapabilityRequest, bus.EventTypeCapabilityResponse} {
		b.Subscribe(et, func(e bus.Event) { events <- e })
	}

	l, err := conn.NewListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		c, err := l.Accept(ctx, 20*time.Millisecond)
		if err == nil {
			Serve(ctx, &Session{Name: "llm", Conn: c, Handler: Generation(echoGenerator{}), Bus: b, Log: zerolog.Nop()})
		}
	}()

	client, err := DialClient(ctx, "llm", l.Addr().String(), 3, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(ctx, "hello")
	require.NoError(t, err)

	seen := map[bus.EventType]bool{}
	for len(seen) < 2 {
		select {
		case e := <-events:
			seen[e.Type] = true
			assert.Equal(t, "llm", e.Data["capability"])
		case <-time.After(time.Second):
			t.Fatal("missing capability events")
		}
	}
}

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "  re: " + prompt + "\n", nil
}

func TestGeneration_TrimsReply(t *testing.T) {
	h := startSession(t, CapabilityLLM, Generation(echoGenerator{}), nil)

	reply, err := GeneratorClient{h.client}.Generate(context.Background(), " hello there ")
	require.NoError(t, err)
	assert.Equal(t, "re: hello there", reply)
}

type blankGenerator struct{}

func (blankGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "  \n", nil
}

func TestGeneration_BlankReply(t *testing.T) {
	h := startSession(t, CapabilityLLM, Generation(blankGenerator{}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := GeneratorClient{h.client}.Generate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)

	reply, err = GeneratorClient{h.client}.Generate(ctx, "still there?")
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)
}

func TestServe_EmptyResponseIsProtocolError(t *testing.T) {
	h := startSession(t, "test", Respond(func(ctx context.Context, req string) (string, error) {
		return "", nil
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.client.Call(ctx, "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	assert.ErrorIs(t, waitServed(t, h), ErrProtocol)
}

func TestTranscription(t *testing.T) {
	transcripts := map[string]string{
		"/tmp/a.wav":       " hello there ",
		"/tmp/silence.wav": "   ",
	}
	h := startSession(t, CapabilitySTT, Transcription(stt.TranscriberFunc(func(ctx context.Context, wavPath string) (string, error) {
		return transcripts[wavPath], nil
	})), nil)
	client := TranscriberClient{h.client}

	text, err := client.Transcribe(context.Background(), "/tmp/a.wav")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	text, err = client.Transcribe(context.Background(), "/tmp/silence.wav")
	require.NoError(t, err)
	assert.Equal(t, EmptySpeech, text)
}

func TestClient_Unavailable(t *testing.T) {
	dial := func(ctx context.Context, addr string) (net.Conn, error) { return nil, errors.New("refused") }
	c, err := DialClient(context.Background(), CapabilitySTT, "127.0.0.1:1", 2, time.Millisecond, zerolog.Nop(), conn.WithDialFunc(dial))
	require.ErrorIs(t, err, conn.ErrUnavailable)
	require.NotNil(t, c)
	assert.False(t, c.Available())
	assert.Equal(t, CapabilitySTT, c.Name())

	_, err = c.Call(context.Background(), "/tmp/a.wav")
	assert.True(t, IsUnavailable(err))

	_, err = SpeechClient{c}.ReadAloud(context.Background(), "hi")
	assert.True(t, IsUnavailable(err))
	assert.NoError(t, c.Close())
}

type gatedEngine struct {
	release chan struct{}
}

func (g gatedEngine) Speak(ctx context.Context, text string, onStart func()) error {
	onStart()
	<-g.release
	return nil
}

func TestSpeech_TwoPhaseAcks(t *testing.T) {
	eng := gatedEngine{release: make(chan struct{})}
	h := startSession(t, CapabilityTTS, Speech(eng), nil)

	r, err := SpeechClient{h.client}.ReadAloud(context.Background(), "Hi! How can I help?")
	require.NoError(t, err)

	select {
	case <-r.Started():
	case <-time.After(time.Second):
		t.Fatal("no start acknowledgement")
	}
	select {
	case <-r.Done():
		t.Fatal("finished before playback ended")
	case <-time.After(20 * time.Millisecond):
	}

	close(eng.release)
	require.NoError(t, r.Wait(context.Background()))
}

type failingEngine struct{}

func (failingEngine) Speak(ctx context.Context, text string, onStart func()) error {
	return tts.ErrProviderUnavailable
}

func TestSpeech_EngineFailureBeforeStart(t *testing.T) {
	h := startSession(t, CapabilityTTS, Speech(failingEngine{}), nil)

	r, err := SpeechClient{h.client}.ReadAloud(context.Background(), "hi")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Wait(context.Background()), conn.ErrPeerClosed)
	assert.False(t, r.HasStarted())
	assert.ErrorIs(t, waitServed(t, h), tts.ErrProviderUnavailable)
}

func TestSpeechClient_AckFraming(t *testing.T) {
	tests := []struct {
		name    string
		sends   []string
		started bool
		wantErr error
	}{
		{"separate", []string{StartReading, FinishReading}, true, nil},
		{"coalesced", []string{StartReading + FinishReading}, true, nil},
		{"legacy finish", []string{StartReading, StopReading}, true, nil},
		{"split token", []string{"[START RE", "ADING]", FinishReading}, true, nil},
		{"finish only", []string{FinishReading}, false, nil},
		{"garbage", []string{"[ACTION DONE]"}, false, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startSession(t, CapabilityTTS, HandlerFunc(func(ctx context.Context, req string, w ResponseWriter) error {
				for _, s := range tt.sends {
					if err := w.Send(s); err != nil {
						return err
					}
					time.Sleep(10 * time.Millisecond)
				}
				return nil
			}), nil)

			r, err := SpeechClient{h.client}.ReadAloud(context.Background(), "hi")
			require.NoError(t, err)

			err = r.Wait(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.started, r.HasStarted())
		})
	}
}

func TestAction_DrivesActorOverSpeechCapability(t *testing.T) {
	eng := gatedEngine{release: make(chan struct{})}
	ttsH := startSession(t, CapabilityTTS, Speech(eng), nil)

	flag := actor.NewStateFlag(actor.Idle)
	a := &actor.Actor{Flag: flag, Reader: SpeechClient{ttsH.client}, Log: zerolog.Nop()}
	actionH := startSession(t, CapabilityAction, Action(a, zerolog.Nop()), nil)

	done := make(chan error, 1)
	go func() { done <- ActionClient{actionH.client}.React(context.Background(), "Hi! How can I help?") }()

	require.Eventually(t, func() bool { return flag.Load() == actor.Speaking }, 2*time.Second, time.Millisecond)
	close(eng.release)

	require.NoError(t, <-done)
	assert.Equal(t, actor.Idle, flag.Load())
}

func TestAction_SynthesisUnavailable(t *testing.T) {
	unavailable := NewClient(CapabilityTTS, nil, zerolog.Nop())
	a := &actor.Actor{Flag: actor.NewStateFlag(actor.Idle), Reader: SpeechClient{unavailable}, Log: zerolog.Nop()}
	h := startSession(t, CapabilityAction, Action(a, zerolog.Nop()), nil)

	require.NoError(t, ActionClient{h.client}.React(context.Background(), "hello"))
	assert.Equal(t, actor.Idle, a.Flag.Load())
}

func TestActionClient_RejectsUnexpectedAck(t *testing.T) {
	h := startSession(t, CapabilityAction, Respond(func(ctx context.Context, req string) (string, error) {
		return "[SOMETHING ELSE]", nil
	}), nil)

	assert.ErrorIs(t, ActionClient{h.client}.React(context.Background(), "hi"), ErrProtocol)
}
