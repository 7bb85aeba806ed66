package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/backend"
)

type readerWriter struct {
	cfg      *Config
	listings *backend.ListingCache
	logger   log.Logger
}

// New creates a filesystem backend rooted at cfg.Path. The root must exist;
// partition subdirectories are created on write.
func New(cfg *Config, logger log.Logger) (backend.Backend, error) {
	cfg.applyDefaults()

	if cfg.Path == "" {
		return nil, errors.New("local backend requires a path")
	}
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to stat local backend path %s", cfg.Path)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("local backend path %s is not a directory", cfg.Path)
	}

	return &readerWriter{
		cfg:      cfg,
		listings: backend.NewListingCache(cfg.ListTTL),
		logger:   logger,
	}, nil
}

func (rw *readerWriter) List(_ context.Context, prefix string) ([]string, error) {
	if paths, ok := rw.listings.Get(prefix); ok {
		return paths, nil
	}

	root := filepath.Join(rw.cfg.Path, filepath.FromSlash(prefix))
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(rw.cfg.Path, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}

	rw.listings.Put(prefix, paths)
	return paths, nil
}

func (rw *readerWriter) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(rw.objectPath(path))
	if os.IsNotExist(err) {
		return nil, backend.ErrObjectDoesNotExist
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

func (rw *readerWriter) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(rw.objectPath(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "checking %s", path)
	}
	return true, nil
}

func (rw *readerWriter) Stat(_ context.Context, path string) (*backend.Attributes, error) {
	info, err := os.Stat(rw.objectPath(path))
	if os.IsNotExist(err) {
		return nil, backend.ErrObjectDoesNotExist
	}
	if err != nil {
		return nil, errors.Wrapf(err, "statting %s", path)
	}
	return &backend.Attributes{
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

func (rw *readerWriter) Write(_ context.Context, path string, data []byte) error {
	target := rw.objectPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating directories for %s", path)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func (rw *readerWriter) Health(_ context.Context) *backend.HealthReport {
	report := &backend.HealthReport{
		Diagnostics: map[string]string{
			"backend": "local",
			"path":    rw.cfg.Path,
		},
	}

	info, err := os.Stat(rw.cfg.Path)
	if err != nil || !info.IsDir() {
		if err != nil {
			report.Diagnostics["error"] = err.Error()
		} else {
			report.Diagnostics["error"] = "path is not a directory"
		}
		level.Warn(rw.logger).Log("msg", "local backend unhealthy", "path", rw.cfg.Path)
		return report
	}

	report.Healthy = true
	return report
}

func (rw *readerWriter) ClearListingCache() {
	rw.listings.Clear()
}

func (rw *readerWriter) Shutdown() {}

func (rw *readerWriter) objectPath(path string) string {
	return filepath.Join(rw.cfg.Path, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}
