package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/maskprop/amgcache"
	"go.viam.com/maskprop/oracle"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"maskprop"}, args...))
	return out.String(), errOut.String(), err
}

func TestConfigActions(t *testing.T) {
	out, _, err := run(t, "config", "validate")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "configuration is valid")
	test.That(t, out, test.ShouldContainSubstring, "projection mask")
	test.That(t, out, test.ShouldContainSubstring, "tiling: no tiling")

	path := filepath.Join(t.TempDir(), "annotator.json")
	test.That(t, os.WriteFile(path, []byte(`{"volume": {"iou_threshold": 1.5}}`), 0o600), test.ShouldBeNil)
	_, _, err = run(t, "--config", path, "config", "validate")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to validate")

	logFile := filepath.Join(t.TempDir(), "maskprop.log")
	good := filepath.Join(t.TempDir(), "annotator.json")
	test.That(t, os.WriteFile(good, []byte(`{"track": {"projection": "mask"}}`), 0o600), test.ShouldBeNil)
	out, _, err = run(t, "--config", good, "--debug", "--log-file", logFile, "config", "validate")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "track: iou_threshold 0.50, projection mask")
	data, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "read config")

	_, _, err = run(t, "config", "watch")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--config")

	out, _, err = run(t, "config", "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "min_object_size")
}

func TestCacheActions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "amg")
	store, err := amgcache.NewDirStore(dir)
	test.That(t, err, test.ShouldBeNil)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, z := range []int{0, 4} {
		e, err := amgcache.NewEntry("sam-vit-b", z, oracle.State{Kind: oracle.KindAMG, Blob: []byte{1}}, created)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, store.Put(context.Background(), e), test.ShouldBeNil)
	}
	test.That(t, store.Close(), test.ShouldBeNil)

	out, _, err := run(t, "cache", "list", "--type", "dir", "--path", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "SLICE")
	test.That(t, out, test.ShouldContainSubstring, "sam-vit-b")
	test.That(t, out, test.ShouldContainSubstring, "2024-03-01T12:00:00Z")
	var rows []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "sam-vit-b") {
			rows = append(rows, line)
			test.That(t, line, test.ShouldContainSubstring, "| amg ")
		}
	}
	test.That(t, rows, test.ShouldHaveLength, 2)
	test.That(t, rows[1], test.ShouldContainSubstring, " 4 |")

	out, _, err = run(t, "cache", "clear", "--type", "dir", "--path", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "removed 2 cached slices")

	out, _, err = run(t, "cache", "list", "--type", "dir", "--path", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "cache is empty")

	_, _, err = run(t, "cache", "list")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "memory caches")

	_, _, err = run(t, "cache", "list", "--type", "sqlite")
	test.That(t, err, test.ShouldNotBeNil)
}
