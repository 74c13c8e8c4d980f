package miner

import (
	"context"
	"os"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh/terminal"
)

const hotkeyHelp = "h: help, p: pause, r: resume, s: report"

// watchKeys reads single key presses from a terminal stdin. Anything else
// on stdin disables hotkeys.
func (m *Miner) watchKeys(ctx context.Context) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		m.logger.Debug("Stdin is not a terminal, hotkeys disabled")
		return
	}
	state, err := terminal.MakeRaw(fd)
	if err != nil {
		m.logger.Warn("Hotkeys unavailable", zap.Error(err))
		return
	}
	defer terminal.Restore(fd, state)

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				close(keys)
				return
			}
			keys <- buf[0]
		}
	}()
	m.logger.Info("Hotkeys enabled", zap.String("keys", hotkeyHelp))
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-keys:
			if !ok {
				return
			}
			if key == 3 {
				// ctrl-c never reaches the signal handler in raw mode
				p, _ := os.FindProcess(os.Getpid())
				p.Signal(os.Interrupt)
				continue
			}
			m.handleKey(key)
		}
	}
}

func (m *Miner) handleKey(key byte) {
	m.mu.RLock()
	pause, reports, logger := m.pause, m.reports, m.logger
	m.mu.RUnlock()

	switch unicode.ToLower(rune(key)) {
	case 'h':
		logger.Info("Hotkeys", zap.String("keys", hotkeyHelp))
	case 'p':
		if !pause.Paused() {
			pause.Pause()
			logger.Info("Mining paused")
		}
	case 'r':
		if pause.Paused() {
			pause.Resume()
			logger.Info("Mining resumed")
		}
	case 's':
		reports.Report()
	}
}
