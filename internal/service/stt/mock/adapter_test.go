package mock

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu         sync.Mutex
	events     []string
	finals     []float64
	utterances int
}

func (c *testCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "partial:"+text)
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "final:"+text)
	c.finals = append(c.finals, confidence)
}

func (c *testCallback) OnEndOfUtterance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "eou")
	c.utterances++
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "error:"+err.Error())
}

func (c *testCallback) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.events...)
}

var testScript = []SimulatedUtterance{
	{Partials: []string{"Hi", "Hi there"}, Final: "Hi there agent", Confidence: 0.9},
	{Partials: []string{"Bye"}, Final: "Bye now", Confidence: 0.8},
}

func TestAdapter_ScriptOrder(t *testing.T) {
	a := NewWithScript(testScript, 0)
	cb := &testCallback{}
	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := a.SendAudio(context.Background(), []byte("frame")); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{
		"partial:Hi", "partial:Hi there", "final:Hi there agent", "eou",
		"partial:Bye", "final:Bye now", "eou",
	}
	if got := cb.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v\nwant %v", got, want)
	}
	if a.Frames() != 5 {
		t.Errorf("frames = %d, want 5 (script exhausted)", a.Frames())
	}
}

func TestAdapter_CloseFinishesUtterance(t *testing.T) {
	a := NewWithScript(testScript, 0)
	cb := &testCallback{}
	a.Start(context.Background(), cb)

	a.SendAudio(context.Background(), []byte("frame"))
	a.Close()

	want := []string{"partial:Hi", "final:Hi there agent"}
	if got := cb.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestAdapter_CloseWithoutAudio(t *testing.T) {
	a := NewWithScript(testScript, 0)
	cb := &testCallback{}
	a.Start(context.Background(), cb)

	a.Close()

	if got := cb.snapshot(); len(got) != 0 {
		t.Errorf("expected no callbacks, got %v", got)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	a := New()
	a.Start(context.Background(), &testCallback{})

	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAdapter_SendAudio_AfterClose(t *testing.T) {
	a := NewWithScript(testScript, 0)
	cb := &testCallback{}
	a.Start(context.Background(), cb)
	a.Close()

	if err := a.SendAudio(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Frames() != 0 {
		t.Errorf("frames after close = %d", a.Frames())
	}
}

func TestAdapter_NoCallbackSet(t *testing.T) {
	a := New()

	if err := a.SendAudio(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapter_ConcurrentSends(t *testing.T) {
	a := NewWithScript(DefaultUtterances, 0)
	cb := &testCallback{}
	a.Start(context.Background(), cb)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				a.SendAudio(context.Background(), []byte("frame"))
			}
		}()
	}
	wg.Wait()
	a.Close()

	if cb.utterances != len(DefaultUtterances) {
		t.Errorf("utterances = %d, want %d", cb.utterances, len(DefaultUtterances))
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}
