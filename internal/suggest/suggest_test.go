package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "clean sentence",
			text: "The quick brown fox jumps.",
			want: nil,
		},
		{
			name: "short",
			text: "Hello there",
			want: []string{"Consider adding more detail to your sentence."},
		},
		{
			name: "misspelling",
			text: "I will recieve the parcel today.",
			want: []string{"Did you mean 'receive' instead of 'recieve'?"},
		},
		{
			name: "lowercase sentence",
			text: "This is fine. but this is not",
			want: []string{"Consider capitalizing the first letter of your sentence."},
		},
		{
			name: "capped at three",
			text: "teh seperate",
			want: []string{
				"Consider adding more detail to your sentence.",
				"Did you mean 'the' instead of 'teh'?",
				"Did you mean 'separate' instead of 'seperate'?",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.text))
		})
	}
}

func TestRulesImplementsSuggester(t *testing.T) {
	var s Suggester = Rules{}
	assert.Len(t, s.Suggest("x"), 2)
}
