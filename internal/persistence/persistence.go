// Package persistence is the Persistence component (C8): it writes a
// rendered booklet to the configured output root and reports disk
// health.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

const (
	minFreeBytesUnhealthy = 100 * 1024 * 1024
	minFreeBytesDegraded  = 500 * 1024 * 1024
)

// Store writes booklets under OutputRoot.
type Store struct {
	OutputRoot string

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewStore constructs a Store rooted at outputRoot.
func NewStore(outputRoot string, log *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{OutputRoot: outputRoot, log: log, metrics: m}
}

// Save writes content (already-rendered Markdown) to
// {OutputRoot}/{relativePath}, creating parent directories as needed
// and writing atomically (tmp file then rename on the same
// filesystem). Returns the final absolute path.
func (s *Store) Save(relativePath string, content []byte) (string, error) {
	finalPath := filepath.Join(s.OutputRoot, relativePath)
	dir := filepath.Dir(finalPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.metrics.BookletSaveFailuresTotal.Inc()
		return "", mapSaveErr(err)
	}

	if err := renameio.WriteFile(finalPath, content, 0o644); err != nil {
		s.metrics.BookletSaveFailuresTotal.Inc()
		s.log.Warn("booklet save failed", zap.String("path", finalPath), zap.Error(err))
		return "", mapSaveErr(err)
	}

	s.metrics.BookletsSavedTotal.Inc()
	s.log.Info("booklet saved", zap.String("path", finalPath))
	return finalPath, nil
}

func mapSaveErr(err error) error {
	if os.IsPermission(err) {
		return model.NewError(model.CodeBookletSaveUnauthorized, "permission denied writing booklet", err)
	}
	if os.IsNotExist(err) {
		return model.NewError(model.CodeBookletSaveDirNotFound, "output directory not found", err)
	}
	return model.NewError(model.CodeBookletSaveError, "failed to write booklet", err)
}

// HealthCheck reports disk health of OutputRoot: Unhealthy below
// minFreeBytesUnhealthy free, Degraded below minFreeBytesDegraded,
// Healthy otherwise. Unhealthy also if the root does not exist/is not
// creatable or not writable.
func (s *Store) HealthCheck() model.HealthStatus {
	status := model.HealthStatus{Component: "persistence", Diagnostics: map[string]string{}}

	if err := os.MkdirAll(s.OutputRoot, 0o755); err != nil {
		status.Status = model.HealthUnhealthy
		status.ErrorMessage = err.Error()
		status.FailureReasons = []string{"output root not creatable"}
		return status
	}

	probe := filepath.Join(s.OutputRoot, ".aires_write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		status.Status = model.HealthUnhealthy
		status.ErrorMessage = err.Error()
		status.FailureReasons = []string{"output root not writable"}
		return status
	}
	os.Remove(probe)

	free, err := freeBytes(s.OutputRoot)
	if err != nil {
		status.Status = model.HealthDegraded
		status.ErrorMessage = err.Error()
		status.FailureReasons = []string{"free space unknown"}
		return status
	}

	status.Diagnostics["freeBytes"] = fmt.Sprintf("%d", free)
	switch {
	case free < minFreeBytesUnhealthy:
		status.Status = model.HealthUnhealthy
		status.FailureReasons = []string{"less than 100MB free"}
	case free < minFreeBytesDegraded:
		status.Status = model.HealthDegraded
		status.FailureReasons = []string{"less than 500MB free"}
	default:
		status.Status = model.HealthHealthy
	}
	return status
}

func freeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
