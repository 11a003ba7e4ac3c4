package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/transport"
)

func TestRoundTrip(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a, WithMetrics(monitoring.NewMetrics()))
	server := New(b)
	defer client.Close()

	server.Handle(func(ctx context.Context, payload []byte) []byte {
		return append([]byte(`{"echo":`), append(payload, '}')...)
	})

	resp, err := client.SendRequest(context.Background(), []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":{"x":1}}`, string(resp))
	assert.Equal(t, 0, client.Pending())
}

func TestInterleavedResponses(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a)
	defer client.Close()

	// raw peer answering in reverse arrival order
	var mu sync.Mutex
	var requests []transport.Message
	b.OnMessage(func(m transport.Message) {
		mu.Lock()
		requests = append(requests, m)
		if len(requests) < 3 {
			mu.Unlock()
			return
		}
		batch := requests
		mu.Unlock()

		for i := len(batch) - 1; i >= 0; i-- {
			_ = b.SendMessage(transport.Message{Subject: batch[i].Subject, Name: transport.NameResponse, Payload: batch[i].Payload})
		}
	})

	payloads := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	results := make([]string, len(payloads))
	var wg sync.WaitGroup
	for i, p := range payloads {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			resp, err := client.SendRequest(context.Background(), []byte(p))
			if assert.NoError(t, err) {
				results[i] = string(resp)
			}
		}(i, p)
	}
	wg.Wait()

	for i, p := range payloads {
		assert.JSONEq(t, p, results[i])
	}
}

func TestTimeoutEvictsPending(t *testing.T) {
	a, b := transport.Pipe(transport.CBOR, nil)
	client := New(a, WithTimeout(50*time.Millisecond))
	defer client.Close()

	late := make(chan transport.Message, 1)
	b.OnMessage(func(m transport.Message) { late <- m })

	_, err := client.SendRequest(context.Background(), []byte{0xa0})
	require.Error(t, err)
	assert.True(t, fserr.Is(err, fserr.KindRuntime))
	assert.Equal(t, "timeout", fserr.From(err).Field("message"))
	assert.Equal(t, 0, client.Pending())

	// a late response is dropped without effect
	req := <-late
	require.NoError(t, b.SendMessage(transport.Message{Subject: req.Subject, Name: transport.NameResponse, Payload: []byte{0xa0}}))
	assert.Equal(t, 0, client.Pending())
}

func TestContextCancelEvictsPending(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a, WithTimeout(0))
	defer client.Close()
	b.OnMessage(func(transport.Message) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SendRequest(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.Pending())
}

func TestCloseRejectsPending(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a, WithTimeout(0))
	received := make(chan struct{}, 1)
	b.OnMessage(func(transport.Message) { received <- struct{}{} })

	errs := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), []byte(`{}`))
		errs <- err
	}()
	<-received

	require.NoError(t, client.Close())
	err := <-errs
	assert.True(t, fserr.Is(err, fserr.KindRuntime))
	assert.Equal(t, 0, client.Pending())

	_, err = client.SendRequest(context.Background(), []byte(`{}`))
	assert.True(t, fserr.Is(err, fserr.KindRuntime))
}

func TestPeerCloseRejectsPending(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a, WithTimeout(0))
	server := New(b)

	block := make(chan struct{})
	server.Handle(func(ctx context.Context, payload []byte) []byte {
		<-block
		return payload
	})
	defer close(block)

	errs := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), []byte(`{}`))
		errs <- err
	}()

	require.Eventually(t, func() bool { return client.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-errs:
		assert.True(t, fserr.Is(err, fserr.KindRuntime))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected")
	}
	<-client.Done()
}

func TestEventsInOrder(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a)
	server := New(b)
	defer client.Close()

	got := make(chan string, 8)
	server.HandleEvents(func(payload []byte) { got <- string(payload) })

	for _, p := range []string{`1`, `2`, `3`, `4`} {
		require.NoError(t, client.SendEvent([]byte(p)))
	}
	for _, want := range []string{`1`, `2`, `3`, `4`} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestMessagesBeforeHandlerAreHeld(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a)
	server := New(b)
	defer client.Close()

	require.NoError(t, client.SendEvent([]byte(`1`)))
	require.NoError(t, client.SendEvent([]byte(`2`)))

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.SendRequest(context.Background(), []byte(`"early"`))
		done <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.early) == 1
	}, time.Second, 5*time.Millisecond)

	server.Handle(func(ctx context.Context, payload []byte) []byte { return payload })
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, `"early"`, string(r.resp))

	var got []string
	server.HandleEvents(func(payload []byte) { got = append(got, string(payload)) })
	assert.Equal(t, []string{`1`, `2`}, got)
}

func TestHandlerPanicIsAnswered(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a, WithTimeout(100*time.Millisecond))
	server := New(b)
	defer client.Close()
	defer server.Close()

	server.Handle(func(ctx context.Context, payload []byte) []byte {
		if string(payload) == `"boom"` {
			panic("boom")
		}
		return payload
	})

	// without an encoder the panicking request goes unanswered
	_, err := client.SendRequest(context.Background(), []byte(`"boom"`))
	assert.True(t, fserr.Is(err, fserr.KindRuntime))
	assert.Equal(t, "timeout", fserr.From(err).Field("message"))

	server.HandlePanics(func(err error) []byte {
		return []byte(`"` + fserr.From(err).Field("message").(string) + `"`)
	})
	resp, err := client.SendRequest(context.Background(), []byte(`"boom"`))
	require.NoError(t, err)
	assert.Equal(t, `"handler panicked: boom"`, string(resp))

	resp, err = client.SendRequest(context.Background(), []byte(`"ok"`))
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(resp))
}

func TestEventHandlerPanicKeepsChannel(t *testing.T) {
	a, b := transport.Pipe(transport.JSON, nil)
	client := New(a)
	server := New(b)
	defer client.Close()
	defer server.Close()

	got := make(chan string, 2)
	server.HandleEvents(func(payload []byte) {
		if string(payload) == `"boom"` {
			panic("boom")
		}
		got <- string(payload)
	})

	require.NoError(t, client.SendEvent([]byte(`"boom"`)))
	require.NoError(t, client.SendEvent([]byte(`"ok"`)))
	select {
	case v := <-got:
		assert.Equal(t, `"ok"`, v)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered after panic")
	}
}
