package machineid

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func staticSource(name, id string, err error, calls *int) Source {
	return SourceFunc{Label: name, Fn: func(context.Context) (string, error) {
		if calls != nil {
			*calls++
		}
		return id, err
	}}
}

func TestProvider_UsesFirstAvailableSource(t *testing.T) {
	p := NewProvider(WithSources(
		staticSource("broken", "", errors.New("unavailable"), nil),
		staticSource("blank", "   ", nil, nil),
		staticSource("mac", "aa:bb:cc:dd:ee:ff", nil, nil),
	))

	id := p.MachineID()
	assert.Regexp(t, fingerprintPattern, id)
	assert.Equal(t, Hash("aa:bb:cc:dd:ee:ff"), id)
	assert.NotContains(t, id, "aa:bb")
}

func TestProvider_Memoizes(t *testing.T) {
	calls := 0
	p := NewProvider(WithSources(staticSource("id", "abc", nil, &calls)))

	first := p.MachineID()
	second := p.MachineID()
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	p.Reset()
	assert.Equal(t, first, p.MachineID())
	assert.Equal(t, 2, calls)
}

func TestProvider_Fallback(t *testing.T) {
	p := NewProvider(
		WithSources(staticSource("broken", "", errors.New("unavailable"), nil)),
		WithFallback(func() string { return "linux-amd64-build01" }),
	)
	assert.Equal(t, Hash("linux-amd64-build01"), p.MachineID())
}

func TestProvider_PanickingSourceFallsThrough(t *testing.T) {
	p := NewProvider(
		WithSources(SourceFunc{Label: "panics", Fn: func(context.Context) (string, error) { panic("driver crash") }}),
		WithFallback(func() string { return "fallback" }),
	)
	assert.Equal(t, Hash("fallback"), p.MachineID())
}

func TestProvider_DifferentHostsDiffer(t *testing.T) {
	a := NewProvider(WithSources(staticSource("id", "host-a", nil, nil)))
	b := NewProvider(WithSources(staticSource("id", "host-b", nil, nil)))
	assert.NotEqual(t, a.MachineID(), b.MachineID())
}

func TestDefaultProvider(t *testing.T) {
	Reset()
	id := Get()
	require.Regexp(t, fingerprintPattern, id)
	assert.Equal(t, id, Get())
}

func TestFallback(t *testing.T) {
	assert.Regexp(t, `^[a-z0-9]+-[a-z0-9]+-`, Fallback())
}

func TestHasFlag(t *testing.T) {
	assert.True(t, hasFlag([]string{"up", "broadcast"}, "up"))
	assert.True(t, hasFlag([]string{"LOOPBACK"}, "loopback"))
	assert.False(t, hasFlag(nil, "up"))
}
