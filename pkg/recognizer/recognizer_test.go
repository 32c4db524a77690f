package recognizer_test

import (
	"testing"

	"github.com/MrWong99/minutes/pkg/recognizer"
)

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		segs []recognizer.Segment
		want string
	}{
		{"empty", nil, ""},
		{"single", []recognizer.Segment{{Text: " Hello "}}, "Hello"},
		{"skips blanks", []recognizer.Segment{{Text: " Hello"}, {Text: "  "}, {Text: "world. "}}, "Hello world."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := recognizer.JoinSegments(tt.segs); got != tt.want {
				t.Errorf("JoinSegments = %q, want %q", got, tt.want)
			}
		})
	}
}
