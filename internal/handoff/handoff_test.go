package handoff

import (
	"bytes"
	"testing"
)

type samplePayload struct {
	Name string `json:"name"`
	FDs  []int  `json:"fds"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := samplePayload{Name: "container-state", FDs: []int{3, 4, 5}}

	if err := Write(&buf, &in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var out samplePayload
	if err := Read(&buf, &out); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if out.Name != in.Name {
		t.Fatalf("Name = %q, want %q", out.Name, in.Name)
	}
	if len(out.FDs) != len(in.FDs) {
		t.Fatalf("FDs = %v, want %v", out.FDs, in.FDs)
	}
	for i := range in.FDs {
		if out.FDs[i] != in.FDs[i] {
			t.Fatalf("FDs[%d] = %d, want %d", i, out.FDs[i], in.FDs[i])
		}
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &samplePayload{Name: "x"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	var out samplePayload
	if err := Read(truncated, &out); err == nil {
		t.Fatalf("expected error reading truncated payload")
	}
}
