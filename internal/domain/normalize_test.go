package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimerID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already canonical", raw: "cave-1", want: "cave-1"},
		{name: "uppercase folded", raw: "Cave-1", want: "cave-1"},
		{name: "punctuation stripped", raw: "MyRoom-1!", want: "myroom-1"},
		{name: "underscore kept", raw: "maze_A", want: "maze_a"},
		{name: "spaces stripped", raw: "  cave 1  ", want: "cave1"},
		{name: "only punctuation", raw: "***", wantErr: true},
		{name: "empty input", raw: "", wantErr: true},
		{name: "unicode dropped", raw: "höhle-2", want: "hhle-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimerID(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimerID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTimerIDIdempotent(t *testing.T) {
	inputs := []string{"Cave-1", "MyRoom-1!", "a_b-c", "UPPER lower 09"}
	for _, raw := range inputs {
		once, err := NormalizeTimerID(raw)
		require.NoError(t, err)
		twice, err := NormalizeTimerID(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}
