package infra

import (
	"sync"
	"testing"
)

func TestStaticCredentials(t *testing.T) {
	creds := NewStaticCredentials("first")
	if creds.Token() != "first" {
		t.Errorf("Expected first, got %s", creds.Token())
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = creds.Token()
		}()
	}
	creds.SetToken("second")
	wg.Wait()

	if creds.Token() != "second" {
		t.Errorf("Expected rotated token, got %s", creds.Token())
	}
}
