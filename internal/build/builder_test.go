package build

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/buildqueue"
)

func TestShortSHA(t *testing.T) {
	tests := []struct {
		name string
		sha  string
		want string
	}{
		{"empty", "", "latest"},
		{"short", "abc123", "abc123"},
		{"long", "abcdef0123456789", "abcdef012345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shortSHA(tt.sha); got != tt.want {
				t.Errorf("shortSHA(%q) = %q, want %q", tt.sha, got, tt.want)
			}
		})
	}
}

func TestBuildImage_CheckoutFailure(t *testing.T) {
	b := New("pack", "paketobuildpacks/builder-jammy-base", time.Second, func(ctx context.Context, req buildqueue.BuildRequest) (string, func(), error) {
		return "", func() {}, os.ErrNotExist
	})

	_, _, err := b.BuildImage(context.Background(), buildqueue.BuildRequest{ProjectID: "p1", CommitSHA: "deadbeef"})
	if err == nil {
		t.Fatal("expected an error when checkout fails")
	}
}
