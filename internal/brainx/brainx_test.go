package brainx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx/nxclaw/internal/brainx"
)

type failingBrain struct{ err error }

func (f failingBrain) Prompt(context.Context, string, string) (string, error) {
	return "", f.err
}

type okBrain struct{ reply string }

func (o okBrain) Prompt(context.Context, string, string) (string, error) {
	return o.reply, nil
}

func TestStubBrainNeverFails(t *testing.T) {
	b := brainx.StubBrain{Name: "test"}
	out, err := b.Prompt(context.Background(), "sess-1", "hello there")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestFailoverBrainFallsBackOnPrimaryFailure(t *testing.T) {
	primary := brainx.NewNamedBrain("primary", failingBrain{err: errors.New("boom")})
	fallback := brainx.NewNamedBrain("fallback", okBrain{reply: "from fallback"})
	fb := brainx.NewFailoverBrain(primary, []brainx.NamedBrain{fallback}, 5, time.Minute, nil)

	out, err := fb.Prompt(context.Background(), "sess-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)
}

func TestFailoverBrainTripsBreakerAfterThreshold(t *testing.T) {
	primary := brainx.NewNamedBrain("primary", failingBrain{err: errors.New("boom")})
	fallback := brainx.NewNamedBrain("fallback", okBrain{reply: "ok"})
	fb := brainx.NewFailoverBrain(primary, []brainx.NamedBrain{fallback}, 2, time.Hour, nil)

	for i := 0; i < 2; i++ {
		_, err := fb.Prompt(context.Background(), "sess-1", "hi")
		require.NoErrorf(t, err, "attempt %d", i)
	}
	status := fb.BreakerStatus()
	assert.True(t, status["primary"], "expected primary breaker to be tripped after threshold failures")
}

func TestFailoverBrainAllProvidersFail(t *testing.T) {
	primary := brainx.NewNamedBrain("primary", failingBrain{err: errors.New("boom1")})
	fallback := brainx.NewNamedBrain("fallback", failingBrain{err: errors.New("boom2")})
	fb := brainx.NewFailoverBrain(primary, []brainx.NamedBrain{fallback}, 5, time.Minute, nil)

	_, err := fb.Prompt(context.Background(), "sess-1", "hi")
	assert.Error(t, err)
}

func TestFailoverBrainProviderNames(t *testing.T) {
	primary := brainx.NewNamedBrain("primary", okBrain{reply: "ok"})
	fallback := brainx.NewNamedBrain("fallback", okBrain{reply: "ok"})
	fb := brainx.NewFailoverBrain(primary, []brainx.NamedBrain{fallback}, 5, time.Minute, nil)

	assert.Equal(t, []string{"primary", "fallback"}, fb.ProviderNames())
}

func TestBuildFromConfigSingleProvider(t *testing.T) {
	newBrain := brainx.BuildFromConfig("google", nil, 0, 0, nil)
	b, err := newBrain("lane-1")
	require.NoError(t, err)
	_, err = b.Prompt(context.Background(), "sess-1", "hi")
	assert.NoError(t, err)
}

func TestBuildFromConfigWithFallbacks(t *testing.T) {
	newBrain := brainx.BuildFromConfig("google", []string{"openai", "google"}, 3, 60, nil)
	b, err := newBrain("lane-1")
	require.NoError(t, err)

	fb, ok := b.(*brainx.FailoverBrain)
	require.Truef(t, ok, "expected *FailoverBrain, got %T", b)
	assert.Lenf(t, fb.ProviderNames(), 2, "expected the duplicate fallback to be dropped")
}
