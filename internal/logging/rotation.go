package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxSize    = 50 << 20
	defaultMaxAge     = 14 * 24 * time.Hour
	defaultMaxBackups = 5
)

// rotatingFile is an append-only log file that is renamed to a timestamped
// backup once it would exceed maxSize. Backups beyond maxBackups or older
// than maxAge are pruned.
type rotatingFile struct {
	path       string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int

	mu   sync.Mutex
	f    *os.File
	size int64
	now  func() time.Time
}

func newRotatingFile(path string, cfg *RotationConfig) (*rotatingFile, error) {
	rf := &rotatingFile{
		path:       path,
		maxSize:    defaultMaxSize,
		maxAge:     defaultMaxAge,
		maxBackups: defaultMaxBackups,
		now:        time.Now,
	}
	if cfg != nil {
		if cfg.MaxSize != "" {
			n, err := parseSize(cfg.MaxSize)
			if err != nil {
				return nil, fmt.Errorf("logging: max_size %q: %w", cfg.MaxSize, err)
			}
			rf.maxSize = n
		}
		if cfg.MaxAge != "" {
			d, err := parseAge(cfg.MaxAge)
			if err != nil {
				return nil, fmt.Errorf("logging: max_age %q: %w", cfg.MaxAge, err)
			}
			rf.maxAge = d
		}
		if cfg.MaxBackups > 0 {
			rf.maxBackups = cfg.MaxBackups
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	rf.prune()
	return rf, nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		if err := rf.open(); err != nil {
			return 0, err
		}
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}

func (rf *rotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", rf.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat %s: %w", rf.path, err)
	}
	rf.f = f
	rf.size = st.Size()
	return nil
}

// backupName returns path with a timestamp inserted before its extension.
func (rf *rotatingFile) backupName() string {
	ext := filepath.Ext(rf.path)
	return strings.TrimSuffix(rf.path, ext) + "." + rf.now().Format("20060102-150405.000") + ext
}

func (rf *rotatingFile) rotate() error {
	if rf.f != nil {
		_ = rf.f.Close()
		rf.f = nil
	}
	if err := os.Rename(rf.path, rf.backupName()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logging: rotate: %w", err)
	}
	if err := rf.open(); err != nil {
		return err
	}
	rf.prune()
	return nil
}

// backups lists rotated files, oldest first.
func (rf *rotatingFile) backups() []string {
	ext := filepath.Ext(rf.path)
	matches, _ := filepath.Glob(strings.TrimSuffix(rf.path, ext) + ".*" + ext)

	type backup struct {
		path string
		mod  time.Time
	}
	var bs []backup
	for _, m := range matches {
		if m == rf.path {
			continue
		}
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		bs = append(bs, backup{m, st.ModTime()})
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].mod.Before(bs[j].mod) })

	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.path
	}
	return out
}

func (rf *rotatingFile) prune() {
	cutoff := rf.now().Add(-rf.maxAge)
	var keep []string
	for _, b := range rf.backups() {
		st, err := os.Stat(b)
		if err == nil && st.ModTime().Before(cutoff) {
			_ = os.Remove(b)
			continue
		}
		keep = append(keep, b)
	}
	for len(keep) > rf.maxBackups {
		_ = os.Remove(keep[0])
		keep = keep[1:]
	}
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseSize parses sizes such as "512KB" or "100MB".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return n * mult, nil
}

// parseAge accepts Go durations plus day ("7d") and week ("2w") suffixes.
func parseAge(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(s)
}
