package s3

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestObjectURLUsesPublicEndpoint(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.com/",
		Bucket:         "chat",
		AccessKey:      "key",
		SecretKey:      "secret",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := c.objectURL("/chat/c1/a.png"); got != "https://cdn.example.com/chat/chat/c1/a.png" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestNewClientRequiresEndpointAndBucket(t *testing.T) {
	if _, err := NewClient(Config{Bucket: "chat"}, nil); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := NewClient(Config{Endpoint: "minio:9000"}, nil); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"http://minio:9000": "minio:9000",
		"minio:9000":        "minio:9000",
		"https://s3.local/": "s3.local",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisabledUploader(t *testing.T) {
	_, err := Disabled{}.Upload(context.Background(), "k", strings.NewReader("x"), "image/png")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
