// Package perception feeds fused sensor detections into the core. The
// actual perception stack (camera, classifier) lives outside the core
// in a native plugin; this package dlopens it via purego (no cgo) and
// degrades to a silent stub when the library is absent.
//
// Detector plugin ABI (C symbols):
//
//	int  sutra_detector_open(void);
//	int  sutra_detector_poll(uint32_t *class_id, float *confidence);
//	void sutra_detector_close(void);
//
// poll returns 1 when a detection was written, 0 when idle.
package perception

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

// Detection is one fused sensor event.
type Detection struct {
	ClassID    uint32
	Confidence float32
}

// Source supplies detections. The daemon polls it and forwards hits to
// the executor's sensor intake.
type Source interface {
	Poll() (Detection, bool)
	Close()
}

// stubSource is the no-plugin fallback: never detects anything.
type stubSource struct{}

func (stubSource) Poll() (Detection, bool) { return Detection{}, false }
func (stubSource) Close()                  {}

// NewStub returns the silent fallback source.
func NewStub() Source { return stubSource{} }

// nativeSource wraps the dlopened plugin.
type nativeSource struct {
	mu    sync.Mutex
	poll  func(classID *uint32, confidence *float32) int32
	close func()
	open  bool
}

var (
	registerOnce sync.Once
	libOpen      func() int32
	libPoll      func(classID *uint32, confidence *float32) int32
	libClose     func()
	libErr       error
)

// Open loads the detector plugin at path. An empty path returns the
// stub. The library is loaded once per process.
func Open(path string) (Source, error) {
	if path == "" {
		return NewStub(), nil
	}

	registerOnce.Do(func() {
		ptr, err := load(path)
		if err != nil {
			libErr = fmt.Errorf("load detector plugin %s: %w", path, err)
			return
		}
		purego.RegisterLibFunc(&libOpen, ptr, "sutra_detector_open")
		purego.RegisterLibFunc(&libPoll, ptr, "sutra_detector_poll")
		purego.RegisterLibFunc(&libClose, ptr, "sutra_detector_close")
	})
	if libErr != nil {
		return nil, libErr
	}

	if rc := libOpen(); rc != 0 {
		return nil, fmt.Errorf("detector plugin open failed: rc=%d", rc)
	}
	return &nativeSource{poll: libPoll, close: libClose, open: true}, nil
}

// Poll asks the plugin for one detection.
func (n *nativeSource) Poll() (Detection, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.open {
		return Detection{}, false
	}
	var classID uint32
	var confidence float32
	if n.poll(&classID, &confidence) != 1 {
		return Detection{}, false
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return Detection{ClassID: classID, Confidence: confidence}, true
}

// Close shuts the plugin down.
func (n *nativeSource) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.open {
		n.close()
		n.open = false
	}
}
