package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMillis(t *testing.T) {
	tests := []struct {
		name    string
		ms      int64
		pattern string
		want    string
	}{
		{name: "one minute five seconds", ms: 65000, pattern: "mm:ss", want: "1:05"},
		{name: "under a minute", ms: 5000, pattern: "mm:ss", want: "0:05"},
		{name: "ten minutes", ms: 600000, pattern: "mm:ss", want: "10:00"},
		{name: "truncates sub-second", ms: 65999, pattern: "mm:ss", want: "1:05"},
		{name: "zero", ms: 0, pattern: "mm:ss", want: "0:00"},
		{name: "minutes beyond two digits", ms: 6000000, pattern: "mm:ss", want: "100:00"},
		{name: "uppercase pattern accepted", ms: 65000, pattern: "MM:SS", want: "1:05"},
		{name: "unknown pattern falls back", ms: 65000, pattern: "hh:mm:ss", want: "1:05"},
		{name: "empty pattern falls back", ms: 5000, pattern: "", want: "0:05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Millis(tt.ms, tt.pattern))
		})
	}
}
