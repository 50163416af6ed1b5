package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/viniciushammett/threshold-learner/internal/ingest"
	"github.com/viniciushammett/threshold-learner/internal/learner"
	"github.com/viniciushammett/threshold-learner/internal/logger"
)

// BatchSink receives a parsed CSV file, e.g. learner.Optimizer.ImportMetrics.
type BatchSink func(data map[string][]learner.Sample) (int, error)

// Spool imports *.csv files that appear in a directory. Writers should create
// the file elsewhere and rename it into dir once complete. Imported files get
// a .done suffix, unparsable ones .failed.
type Spool struct {
	dir  string
	log  *logger.Logger
	sink BatchSink
	now  func() time.Time
}

func NewSpool(dir string, log *logger.Logger, sink BatchSink) *Spool {
	return &Spool{dir: dir, log: log, sink: sink, now: time.Now}
}

// Run imports the files already in dir, then watches it until ctx is done.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	// arquivos que chegaram com o serviço parado
	existing, _ := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	for _, path := range existing {
		s.Import(path)
	}
	s.log.Info().Str("dir", s.dir).Int("backlog", len(existing)).Msg("spool watcher started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("spool watcher stopped")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 && strings.EqualFold(filepath.Ext(ev.Name), ".csv") {
				s.Import(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("spool watcher error")
		}
	}
}

// Import feeds one file to the sink and renames it. It returns the number of
// accepted samples.
func (s *Spool) Import(path string) int {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("file", path).Msg("spool open failed")
		}
		return 0
	}
	data, err := ingest.ReadCSV(f, s.now)
	_ = f.Close()
	if err != nil {
		s.log.Error().Err(err).Str("file", path).Msg("spool file rejected")
		s.rename(path, ".failed")
		return 0
	}
	n, err := s.sink(data)
	if err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("some spooled samples were rejected")
	}
	s.log.Info().Str("file", filepath.Base(path)).Int("parameters", len(data)).Int("samples", n).Msg("spool file imported")
	s.rename(path, ".done")
	return n
}

func (s *Spool) rename(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("spool rename failed")
	}
}
