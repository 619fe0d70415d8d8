package crash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"warf/internal/backend"
	"warf/pkg/watchdog"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// Monitor observes the crash directories of a running engine. It never touches the files.
type Monitor struct {
	factory  *watchdog.WatchDogFactory
	logger   *zap.Logger
	interval time.Duration // how often missing crash directories are looked for
}

func NewMonitor(factory *watchdog.WatchDogFactory, logger *zap.Logger) *Monitor {
	return &Monitor{
		factory:  factory,
		logger:   logger,
		interval: defaultPollInterval,
	}
}

// Session collects the crashes found while one target is fuzzed.
type Session struct {
	target string
	filter func(string) bool
	logger *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	dirs     []string // swept once more on Stop, empty when nothing was watched

	mu      sync.Mutex
	pending []string            // crash directories the engine has not created yet
	digests map[string]struct{} // md5 of every crash input seen, preexisting ones included
	crashes []string
	err     error
}

// Watch starts observing watch.Dirs. Files already present are remembered but not reported.
// The session runs until Stop is called or ctx is done.
func (m *Monitor) Watch(ctx context.Context, target string, watch backend.CrashWatch) *Session {
	s := &Session{
		target:  target,
		filter:  watch.Filter,
		logger:  m.logger.With(zap.String("target", target)),
		done:    make(chan struct{}),
		digests: make(map[string]struct{}),
	}
	if len(watch.Dirs) == 0 {
		s.cancel = func() {}
		close(s.done)
		return s
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	notify := make(chan string, 64)
	dog, err := m.factory.New(watchCtx, notify, watch.Filter)
	if err != nil {
		s.logger.Warn("crash monitor disabled", zap.Error(err))
		s.err = err
		close(s.done)
		return s
	}

	s.dirs = watch.Dirs
	for _, dir := range watch.Dirs {
		if err := dog.AddDir(dir); err != nil {
			s.pending = append(s.pending, dir)
			continue
		}
		s.scan(dir, false)
	}

	go s.loop(dog, notify, m.interval)
	return s
}

func (s *Session) loop(dog *watchdog.WatchDog, notify <-chan string, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// the watchdog closes notify once the session context is done
	for {
		select {
		case path, ok := <-notify:
			if !ok {
				return
			}
			s.record(path)
		case <-ticker.C:
			s.addPending(dog)
		}
	}
}

// addPending starts watching the crash directories that appeared since the last tick.
// Their content is new, so it is reported.
func (s *Session) addPending(dog *watchdog.WatchDog) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var still []string
	for _, dir := range pending {
		if err := dog.AddDir(dir); err != nil {
			still = append(still, dir)
			continue
		}
		s.scan(dir, true)
	}

	s.mu.Lock()
	s.pending = append(s.pending, still...)
	s.mu.Unlock()
}

func (s *Session) scan(dir string, report bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.addErr(err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.Type().IsRegular() || (s.filter != nil && !s.filter(path)) {
			continue
		}
		if report {
			s.record(path)
			continue
		}
		if digest, err := fileDigest(path); err == nil {
			s.mu.Lock()
			s.digests[digest] = struct{}{}
			s.mu.Unlock()
		}
	}
}

// record reports path unless an input with the same content was already seen.
func (s *Session) record(path string) {
	digest, err := fileDigest(path)
	if err != nil {
		s.addErr(err)
		return
	}

	s.mu.Lock()
	_, dup := s.digests[digest]
	if !dup {
		s.digests[digest] = struct{}{}
		s.crashes = append(s.crashes, path)
	}
	s.mu.Unlock()

	if dup {
		s.logger.Debug("duplicate crash ignored", zap.String("file", path))
		return
	}
	s.logger.Info("crash found", zap.String("file", path), zap.String("md5", digest))
}

func (s *Session) addErr(err error) {
	s.mu.Lock()
	s.err = multierr.Append(s.err, err)
	s.mu.Unlock()
}

// Crashes returns the unique crashes reported so far.
func (s *Session) Crashes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.crashes...)
}

// Stop ends the session and returns the unique crashes found, along with every
// error met while reading crash files. Crash directories are read one last time
// so files written just before the engine exited are not lost.
func (s *Session) Stop() ([]string, error) {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.sweep()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.crashes...), s.err
}

// sweep reports every crash left in the session directories. Files already seen share
// their digest and are skipped.
func (s *Session) sweep() {
	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		s.scan(dir, true)
	}
}

func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read crash file: %w", err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}
