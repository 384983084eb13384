package output

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		filled  int
	}{
		{"empty", 0, 0},
		{"half", 50, 5},
		{"full", 100, 10},
		{"overflow clamped", 250, 10},
		{"negative clamped", -5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := ProgressBar(tt.percent, 10)
			require.Equal(t, tt.filled, strings.Count(bar, "█"))
			require.Equal(t, 10, len([]rune(bar)))
		})
	}
}

func TestFprintRight(t *testing.T) {
	var buf bytes.Buffer
	fprintRight(&buf, 10, "abc")
	require.Equal(t, "\r       abc", buf.String())

	buf.Reset()
	fprintRight(&buf, 2, "abcdef")
	require.Equal(t, "\rabcdef", buf.String())
}

func TestPrettyProfileStatus(t *testing.T) {
	s := PrettyProfileStatus(42, 3, 1, 50)
	require.Contains(t, s, "Samples/s:   42")
	require.Contains(t, s, "Empty:      3")
	require.Contains(t, s, "Failed:      1")
	require.Contains(t, s, " 50%")
}

func TestStatusBarStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})

	go func() {
		StatusBar(ctx, 5*time.Millisecond, func() { calls.Add(1) })
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status bar did not stop after cancel")
	}
}
