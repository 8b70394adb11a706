package storage

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		bucket     string
		region     string
		wantHost   string
		wantBucket string
		wantRegion string
		wantSecure bool
		wantErr    bool
	}{
		{
			name:       "plain host with bucket",
			raw:        "s3.amazonaws.com",
			bucket:     "mybucket",
			region:     "eu-west-1",
			wantHost:   "s3.amazonaws.com",
			wantBucket: "mybucket",
			wantRegion: "eu-west-1",
			wantSecure: true,
		},
		{
			name:       "https url",
			raw:        "https://minio.example.com:9000",
			bucket:     "files",
			wantHost:   "minio.example.com:9000",
			wantBucket: "files",
			wantSecure: true,
		},
		{
			name:       "http url is insecure",
			raw:        "http://localhost:9000",
			bucket:     "dev",
			wantHost:   "localhost:9000",
			wantBucket: "dev",
			wantSecure: false,
		},
		{
			name:       "hetzner bucket in hostname",
			raw:        "https://mybucket.fsn1.your-objectstorage.com",
			wantHost:   "fsn1.your-objectstorage.com",
			wantBucket: "mybucket",
			wantRegion: "fsn1",
			wantSecure: true,
		},
		{
			name:       "hetzner region endpoint with explicit bucket",
			raw:        "https://fsn1.your-objectstorage.com",
			bucket:     "mybucket",
			wantHost:   "fsn1.your-objectstorage.com",
			wantBucket: "mybucket",
			wantRegion: "fsn1",
			wantSecure: true,
		},
		{
			name:       "explicit values win over hetzner parse",
			raw:        "https://other.fsn1.your-objectstorage.com",
			bucket:     "chosen",
			region:     "hel1",
			wantHost:   "fsn1.your-objectstorage.com",
			wantBucket: "chosen",
			wantRegion: "hel1",
			wantSecure: true,
		},
		{name: "empty endpoint", raw: "", bucket: "b", wantErr: true},
		{name: "missing bucket", raw: "s3.amazonaws.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.raw, tt.bucket, tt.region)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint(%q) = %+v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error = %v", tt.raw, err)
			}
			if got.Host != tt.wantHost || got.Bucket != tt.wantBucket || got.Region != tt.wantRegion || got.Secure != tt.wantSecure {
				t.Errorf("ParseEndpoint(%q) = %+v, want host=%s bucket=%s region=%s secure=%v",
					tt.raw, got, tt.wantHost, tt.wantBucket, tt.wantRegion, tt.wantSecure)
			}
		})
	}
}

func TestKeyDerivation(t *testing.T) {
	channelID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	serverID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	if got, want := FileKey("", channelID, "report.pdf"), "channels/11111111-2222-3333-4444-555555555555/report.pdf"; got != want {
		t.Errorf("FileKey() = %q, want %q", got, want)
	}
	if got, want := FileKey("hub/", channelID, "report.pdf"), "hub/channels/11111111-2222-3333-4444-555555555555/report.pdf"; got != want {
		t.Errorf("FileKey() with prefix = %q, want %q", got, want)
	}
	if got, want := IconKey("", serverID, ".png"), "channels/server-icons/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/icon.png"; got != want {
		t.Errorf("IconKey() = %q, want %q", got, want)
	}
	if got, want := IconKey("hub", serverID, "jpeg"), "hub/channels/server-icons/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/icon.jpg"; got != want {
		t.Errorf("IconKey() with prefix = %q, want %q", got, want)
	}
}

func TestNormalizeIconExt(t *testing.T) {
	tests := []struct{ in, want string }{
		{".png", "png"},
		{"PNG", "png"},
		{"jpeg", "jpg"},
		{".JPG", "jpg"},
		{"webp", "webp"},
		{"gif", "gif"},
		{"svg", "png"},
		{"", "png"},
	}
	for _, tt := range tests {
		if got := NormalizeIconExt(tt.in); got != tt.want {
			t.Errorf("NormalizeIconExt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateIDSegment(t *testing.T) {
	for _, ok := range []string{uuid.NewString(), "abc-123", "A1"} {
		if err := ValidateIDSegment(ok); err != nil {
			t.Errorf("ValidateIDSegment(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "..", "a/b", "a.b", "a b", "café"} {
		if err := ValidateIDSegment(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateIDSegment(%q) = %v, want %v", bad, err, ErrInvalidKey)
		}
	}
}
