package storage_test

import (
	"testing"

	"github.com/p-n-ai/pai-academy/internal/storage"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/2", false},
		{"wrong-scheme", "http://localhost:6379", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := storage.ParseRedisURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRedisURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDialRedis_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	if _, err := storage.DialRedis(t.Context(), "redis://localhost:59999"); err == nil {
		t.Fatal("DialRedis() should return error for unreachable host")
	}
}
