package main

import (
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
)

// browserWindow stands in for the native window collaborator: the primary
// window is the search UI opened in the user's browser.
type browserWindow struct {
	mu     sync.Mutex
	url    string
	opened bool
	logger *slog.Logger
}

func newBrowserWindow(logger *slog.Logger) *browserWindow {
	return &browserWindow{logger: logger}
}

func (w *browserWindow) SetURL(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = url
}

// A browser tab cannot be observed, so the window exists once it was opened.
func (w *browserWindow) PrimaryWindowExists() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

func (w *browserWindow) CreatePrimaryWindow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open()
}

func (w *browserWindow) SurfacePrimaryWindow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open()
}

func (w *browserWindow) open() {
	if w.url == "" {
		return
	}
	if err := openBrowser(w.url); err != nil {
		w.logger.Warn("opening browser failed", slog.String("url", w.url), slog.Any("err", err))
		return
	}
	w.opened = true
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
