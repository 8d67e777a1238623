package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/maskprop/logging"
)

func TestWatcher(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "annotator.json")
	test.That(t, os.WriteFile(path, []byte(`{"volume": {"iou_threshold": 0.6}}`), 0o600), test.ShouldBeNil)

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	test.That(t, os.WriteFile(path, []byte(`{"volume": {"iou_threshold": 0.7}}`), 0o600), test.ShouldBeNil)
	select {
	case cfg := <-w.Config():
		test.That(t, cfg.Volume.IoUThreshold, test.ShouldEqual, 0.7)
		test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the changed config")
	}

	_, err = NewWatcher(context.Background(), filepath.Join(t.TempDir(), "missing", "annotator.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
