package perception

import "testing"

func TestStubNeverDetects(t *testing.T) {
	s := NewStub()
	defer s.Close()

	if _, ok := s.Poll(); ok {
		t.Error("Stub source must never produce detections")
	}
}

func TestOpenEmptyPathIsStub(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Empty plugin path must fall back to the stub: %v", err)
	}
	if _, ok := s.Poll(); ok {
		t.Error("Stub fallback must be silent")
	}
}

func TestOpenMissingLibraryFails(t *testing.T) {
	if _, err := Open("/nonexistent/libsutra_detector.so"); err == nil {
		t.Error("Missing plugin library must fail to open")
	}
}
