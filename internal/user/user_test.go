package user

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "alice", want: "alice"},
		{name: "trimmed", input: "  alice  ", want: "alice"},
		{name: "single rune", input: "a", want: "a"},
		{name: "at limit", input: strings.Repeat("x", 32), want: strings.Repeat("x", 32)},
		{name: "multibyte runes count as one", input: strings.Repeat("ü", 32), want: strings.Repeat("ü", 32)},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("x", 33), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateUsername(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUsernameLength) {
					t.Fatalf("ValidateUsername() error = %v, want ErrUsernameLength", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateUsername() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateUsername() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRolePrivileges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role        string
		canPostRSS  bool
		canModerate bool
		isAdmin     bool
	}{
		{role: RoleUser, canPostRSS: false, canModerate: false, isAdmin: false},
		{role: RoleMod, canPostRSS: true, canModerate: true, isAdmin: false},
		{role: RoleAdmin, canPostRSS: true, canModerate: true, isAdmin: true},
		{role: RoleOwner, canPostRSS: true, canModerate: true, isAdmin: true},
		{role: RoleBot, canPostRSS: true, canModerate: false, isAdmin: false},
		{role: RoleSystem, canPostRSS: true, canModerate: false, isAdmin: false},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			u := User{Role: tt.role}
			if got := u.CanPostToRSS(); got != tt.canPostRSS {
				t.Errorf("CanPostToRSS() = %v, want %v", got, tt.canPostRSS)
			}
			if got := u.CanModerate(); got != tt.canModerate {
				t.Errorf("CanModerate() = %v, want %v", got, tt.canModerate)
			}
			if got := u.IsAdmin(); got != tt.isAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.isAdmin)
			}
		})
	}
}
