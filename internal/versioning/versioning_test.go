package versioning

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldVersion(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		hasPrior bool
		elapsed  time.Duration
		want     bool
	}{
		{"long content", 51, true, time.Second, true},
		{"exactly threshold", 50, true, time.Second, false},
		{"short recent", 10, true, time.Second, false},
		{"short no prior", 10, false, 0, true},
		{"empty no prior", 0, false, 0, true},
		{"short stale", 10, true, 5 * time.Minute, true},
		{"short almost stale", 10, true, 5*time.Minute - time.Millisecond, false},
		{"short very stale", 2, true, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldVersion(tt.length, tt.hasPrior, tt.elapsed))
		})
	}
}

func TestShouldVersionExhaustive(t *testing.T) {
	for length := 0; length <= 120; length += 7 {
		for _, hasPrior := range []bool{false, true} {
			for _, elapsed := range []time.Duration{0, time.Second, 4 * time.Minute, 5 * time.Minute, 10 * time.Minute} {
				want := length > 50 || !hasPrior || elapsed >= 5*time.Minute
				assert.Equal(t, want, ShouldVersion(length, hasPrior, elapsed), "len=%d prior=%v elapsed=%v", length, hasPrior, elapsed)
			}
		}
	}
}

func TestLengthCountsCharacters(t *testing.T) {
	assert.Equal(t, 2, Length("hi"))
	assert.Equal(t, 3, Length("héé"))
	assert.Equal(t, 51, Length(strings.Repeat("é", 51)))
}
