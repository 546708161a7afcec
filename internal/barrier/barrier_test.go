package barrier

import (
	"testing"
	"time"
)

func TestSignalWait(t *testing.T) {
	b, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.CloseRead()
	defer b.CloseWrite()

	done := make(chan error, 1)
	go func() {
		done <- b.Wait()
	}()

	if err := b.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after Signal")
	}
}

func TestFromFDs(t *testing.T) {
	b, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.CloseRead()
	defer b.CloseWrite()

	reconstructed := FromFDs(int(b.ReadFile().Fd()), -1)
	if reconstructed.WriteFile() != nil {
		t.Fatalf("expected nil write side when readFD only is given")
	}

	done := make(chan error, 1)
	go func() {
		done <- reconstructed.Wait()
	}()

	if err := b.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after Signal")
	}
}
