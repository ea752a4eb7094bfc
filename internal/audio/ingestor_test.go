package audio

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelbridge/internal/log"
	"wheelbridge/internal/telemetry"
)

func newTestIngestor() *Ingestor {
	return New("", nil, log.NewRaw(nil), &telemetry.Counters{})
}

func TestIngestor_DisabledWithoutHelperPath(t *testing.T) {
	a := newTestIngestor()
	assert.False(t, a.Enabled())
	assert.Equal(t, Features{}, a.Latest())
}

func TestIngestor_ArmsOnStartedAndDisarmsOnStopped(t *testing.T) {
	a := newTestIngestor()
	lines := strings.Join([]string{
		`{"status":"started","device":"phone-mic"}`,
		`{"bodyL":0.4,"bodyR":0.6,"impact":0.8}`,
		`not json at all`,
		`{"status":"stopped"}`,
	}, "\n") + "\n"

	done := make(chan struct{})
	go func() {
		a.readLoop(strings.NewReader(lines))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readLoop did not finish")
	}

	assert.False(t, a.armed.Load(), "stopped line must disarm")
	assert.Equal(t, int64(1), a.counters.AudioParseFailures.Load())

	a.Poll()
	assert.Equal(t, Features{}, a.Latest(), "disarmed ingestor reports zero features")
}

func TestIngestor_LatestReflectsMostRecentFrame(t *testing.T) {
	a := newTestIngestor()
	lines := strings.Join([]string{
		`{"status":"started"}`,
		`{"bodyL":0.1,"bodyR":0.1,"impact":0.1}`,
		`{"bodyL":0.9,"bodyR":0.8,"impact":0.7,"device":"mic2"}`,
	}, "\n") + "\n"

	// Keep the stream open while checking: EOF disarms the ingestor.
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	go a.readLoop(pr)
	_, err := pw.Write([]byte(lines))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a.Poll()
		return a.Latest().Device == "mic2"
	}, time.Second, time.Millisecond)
	f := a.Latest()
	require.Equal(t, 0.9, f.BodyL)
	assert.Equal(t, 0.8, f.BodyR)
	assert.Equal(t, "mic2", f.Device)
}

func TestIngestor_ArmsImplicitlyWithoutStartedLine(t *testing.T) {
	a := newTestIngestor()
	// Keep the stream open while checking: EOF disarms the ingestor.
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	go a.readLoop(pr)
	_, err := pw.Write([]byte(`{"bodyL":0.5,"bodyR":0.5}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a.Poll()
		return a.Latest().BodyL != 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0.5, a.Latest().BodyL)
}
