package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables_GetAfterSet(t *testing.T) {
	rig := newTestRig(t, 0)

	require.True(t, rig.variables.Set("counter", "5"))

	v, ok := rig.variables.Get("counter")
	assert.True(t, ok)
	assert.Equal(t, "5", v)
}

func TestVariables_NotFoundDiffersFromEmpty(t *testing.T) {
	rig := newTestRig(t, 0)

	_, ok := rig.variables.Get("never_set")
	assert.False(t, ok)

	require.True(t, rig.variables.Set("empty", ""))
	v, ok := rig.variables.Get("empty")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestVariables_SetReportsHostFailure(t *testing.T) {
	rig := newTestRig(t, 0)
	assert.False(t, rig.variables.Set("", "x"))
}

func TestVariables_Expand(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.host.setVariable("dir", "/home/me/sounds")
	rig.host.setVariable("ext", "ogg")

	tests := []struct {
		in   string
		want string
	}{
		{in: "plain.wav", want: "plain.wav"},
		{in: "${dir}/ding.${ext}", want: "/home/me/sounds/ding.ogg"},
		{in: "${dir}/${missing}.wav", want: "/home/me/sounds/${missing}.wav"},
		{in: "${ext} ${ext}", want: "ogg ogg"},
		{in: "${}", want: "${}"},
		{in: "$dir", want: "$dir"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rig.variables.Expand(tt.in), tt.in)
	}
}

func TestVariables_ExpandLooksUpEachNameOnce(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.host.setVariable("x", "1")

	assert.Equal(t, "1-1-1", rig.variables.Expand("${x}-${x}-${x}"))
	assert.Len(t, rig.host.callsTo(procGetVariableValue), 1)
}
