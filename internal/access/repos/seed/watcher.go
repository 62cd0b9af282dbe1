package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
)

// Sink receives rule inputs read from the seed file.
type Sink interface {
	AddMissing(ctx context.Context, inputs []string) ([]domain.Rule, error)
}

// Seeder loads a rule file into a Sink and, when watching, reloads it
// after it changes. Seeding only adds rules; removing a line from the file
// does not delete the rule.
type Seeder struct {
	path     string
	sink     Sink
	logger   log.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSeeder returns a Seeder for path.
func NewSeeder(path string, sink Sink, debounce time.Duration, logger log.Logger) *Seeder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Seeder{
		path:     path,
		sink:     sink,
		logger:   log.Component(logger, "seed"),
		debounce: debounce,
	}
}

// Sync loads the file once and adds the rules that are not present yet.
func (s *Seeder) Sync(ctx context.Context) (int, error) {
	inputs, err := LoadFile(s.path, s.logger)
	if err != nil {
		return 0, err
	}
	added, err := s.sink.AddMissing(ctx, inputs)
	if err != nil {
		return 0, fmt.Errorf("seed rules from %s: %w", s.path, err)
	}
	s.logger.Info(map[string]any{"path": s.path, "entries": len(inputs), "added": len(added)}, "rule file synced")
	return len(added), nil
}

// Watch starts reloading the file on write, create and rename events.
// It returns once the watcher is installed.
func (s *Seeder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching rule file %q: %w", s.path, err)
	}
	s.watcher = w
	ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	go s.run(ctx)
	s.logger.Info(map[string]any{"path": s.path, "debounce": s.debounce.String()}, "rule file watcher started")
	return nil
}

// Stop ends watching. Safe to call when Watch was never called.
func (s *Seeder) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.stopped
}

func (s *Seeder) run(ctx context.Context) {
	defer close(s.stopped)
	defer s.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(s.debounce)
				fire = timer.C
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error(map[string]any{"err": err}, "file watcher error")
		case <-fire:
			fire, timer = nil, nil
			// editors often replace the file, which drops the watch
			_ = s.watcher.Add(s.path)
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error(map[string]any{"path": s.path, "err": err}, "rule file reload failed")
			}
		}
	}
}
