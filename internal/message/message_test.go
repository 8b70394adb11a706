package message

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{name: "plain text", content: "hello", want: "hello"},
		{name: "surrounding whitespace trimmed", content: "  hi there \n", want: "hi there"},
		{name: "empty", content: "", wantErr: ErrEmptyContent},
		{name: "whitespace only", content: " \t\n ", wantErr: ErrEmptyContent},
		{name: "at limit", content: strings.Repeat("a", MaxContentLength), want: strings.Repeat("a", MaxContentLength)},
		{name: "over limit", content: strings.Repeat("a", MaxContentLength+1), wantErr: ErrContentLength},
		{
			name:    "limit counts runes not bytes",
			content: strings.Repeat("ü", MaxContentLength),
			want:    strings.Repeat("ü", MaxContentLength),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateContent(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateContent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateContent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
