package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

func TestSaveWritesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zap.NewNop(), metrics.NewMetrics())

	path, err := s.Save("nested/booklet.md", []byte("# hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != filepath.Join(dir, "nested/booklet.md") {
		t.Errorf("path = %q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "# hello" {
		t.Errorf("content = %q", got)
	}
}

func TestSaveMapsPermissionError(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	defer os.Chmod(dir, 0o755)

	s := NewStore(filepath.Join(dir, "readonly-sub"), zap.NewNop(), metrics.NewMetrics())
	_, err := s.Save("booklet.md", []byte("content"))
	if err == nil {
		t.Fatal("expected error writing under a read-only root")
	}
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("err is not *model.Error: %T", err)
	}
	if merr.Code != model.CodeBookletSaveUnauthorized && merr.Code != model.CodeBookletSaveError {
		t.Errorf("Code = %s, want unauthorized or generic save error", merr.Code)
	}
}

func TestHealthCheckHealthyOnWritableDir(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zap.NewNop(), metrics.NewMetrics())

	status := s.HealthCheck()
	if status.Status != model.HealthHealthy && status.Status != model.HealthDegraded {
		t.Errorf("Status = %v, want Healthy or Degraded (free space dependent)", status.Status)
	}
}
