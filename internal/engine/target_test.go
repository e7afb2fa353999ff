package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetBuilder(t *testing.T) {
	target, err := NewTarget("10.0.0.5").
		Named("office").
		Share("Data").
		Credential("env://OFFICE").
		Timeout(5 * time.Second).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "office", target.Name)
	assert.Equal(t, "10.0.0.5", target.Address)
	assert.Equal(t, "Data", target.Share)
	assert.Equal(t, "env://OFFICE", target.Credential)
	assert.Equal(t, 5*time.Second, target.Timeout)
}

func TestTargetBuilder_Defaults(t *testing.T) {
	target, err := NewTarget("nas.local").Timeout(0).Build()
	require.NoError(t, err)
	assert.Equal(t, "nas.local", target.Name)
	assert.Equal(t, DefaultTimeout, target.Timeout)
}

func TestTargetBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    *TargetBuilder
	}{
		{"empty address", NewTarget("")},
		{"bad address", NewTarget("not a host!")},
		{"share with slash", NewTarget("nas").Share("a/b")},
		{"share with backslash", NewTarget("nas").Share(`a\b`)},
		{"negative timeout", NewTarget("nas").Timeout(-time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			assert.ErrorContains(t, err, "invalid target")
		})
	}
}

func TestTargetInfoOmitsCredential(t *testing.T) {
	target, err := NewTarget("nas").Credential("env://SECRET").Build()
	require.NoError(t, err)
	info := target.Info()
	assert.Equal(t, "nas", info.Server)
	assert.Equal(t, "10s", info.Timeout)
}
