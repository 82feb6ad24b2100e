package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const logRingSize = 50

// ringHook keeps the last logRingSize formatted log lines in memory so
// the web UI can show recent activity without shell access to the unit.
type ringHook struct {
	mu    sync.Mutex
	lines []string
}

func (h *ringHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ringHook) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("%s [%s] %s",
		entry.Time.Format(time.RFC3339),
		strings.ToUpper(entry.Level.String()),
		entry.Message)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
	if len(h.lines) > logRingSize {
		h.lines = h.lines[len(h.lines)-logRingSize:]
	}
	return nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (h *ringHook) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}
