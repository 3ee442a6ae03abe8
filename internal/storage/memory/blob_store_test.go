package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"wp_version":"6.4"}`)
	uri, err := store.PutObject(context.Background(), "health/1/abc.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://health/1/abc.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, ok := store.Object("health/1/abc.json")
	if !ok || string(stored) != `{"wp_version":"6.4"}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one object, got %d", store.Len())
	}
}
