package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAccessors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ctx  *Context
		want [3]string
	}{
		{"nil context", nil, [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"empty values", NewContext("", "", ""), [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"pre-release", NewContext("1.0.0-beta.1", "2024-05-01", "abc"), [3]string{"1.0.0-beta.1", "2024-05-01", "abc"}},
		{"build metadata", NewContext("1.0.0+build.123", "2024-05-01 12:00:00 UTC", ""), [3]string{"1.0.0+build.123", "2024-05-01 12:00:00 UTC", UnknownValue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want[0], tt.ctx.Version())
			assert.Equal(t, tt.want[1], tt.ctx.BuildDate())
			assert.Equal(t, tt.want[2], tt.ctx.SystemID())
		})
	}
}

func TestReleaseAndFields(t *testing.T) {
	t.Parallel()
	ctx := NewContext("2.1.0", "", "")
	assert.Equal(t, "twsaudio@2.1.0", ctx.Release())

	var nilCtx *Context
	assert.Equal(t, "twsaudio@unknown", nilCtx.Release())

	fields := ctx.Fields()
	assert.Len(t, fields, 3)
	assert.Equal(t, "version", fields[0].Key)
	assert.Equal(t, "2.1.0", fields[0].Value)
}

func TestDeviceSystemID(t *testing.T) {
	t.Parallel()
	left := DeviceSystemID("bud", "left")
	assert.Equal(t, left, DeviceSystemID("bud", "left"), "stable across calls")
	assert.NotEqual(t, left, DeviceSystemID("bud", "right"))

	ctx := NewContext("1", "", "").WithSystemID(left)
	assert.Equal(t, left, ctx.SystemID())
	assert.Equal(t, "1", ctx.Version())

	var nilCtx *Context
	assert.Equal(t, "x", nilCtx.WithSystemID("x").SystemID())
}

func TestContextImplementsBuildInfo(t *testing.T) {
	t.Parallel()
	var info BuildInfo = NewContext("1.0.0", "2024-01-01", "id")
	assert.Equal(t, "1.0.0", info.Version())
}
