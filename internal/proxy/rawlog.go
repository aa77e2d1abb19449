package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// RawLog appends every received message to a file named by a strftime
// pattern, so a new file starts each day with the default %Y%m%d_proxy.log.
type RawLog struct {
	dir     string
	pattern *strftime.Strftime
	now     func() time.Time
	mu      sync.Mutex
}

func NewRawLog(dir, pattern string) (*RawLog, error) {
	p, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("proxy: log pattern %q: %w", pattern, err)
	}
	return &RawLog{dir: dir, pattern: p, now: time.Now}, nil
}

// Path returns the file the next Append writes to.
func (r *RawLog) Path() string {
	return filepath.Join(r.dir, r.pattern.FormatString(r.now()))
}

func (r *RawLog) Append(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("proxy: open raw log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("proxy: write raw log: %w", err)
	}
	return nil
}
