package auth

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Viewer presents the login QR image to the account owner. The login flow
// only needs display, liveness, and close — not rendering.
type Viewer interface {
	Display(png []byte) error
	// IsOpen reports whether the presentation surface is still up. When
	// that cannot be determined it must return true; a false here sends
	// the QR poll into its short closed-viewer grace window.
	IsOpen() bool
	Close()
}

type noopViewer struct{}

func (noopViewer) Display([]byte) error { return nil }
func (noopViewer) IsOpen() bool         { return true }
func (noopViewer) Close()               {}

// fileViewer writes the QR image to disk and hands it to the platform
// image viewer.
type fileViewer struct {
	path     string
	cmd      *exec.Cmd
	started  time.Time
	exited   atomic.Bool
	exitedAt atomic.Int64 // unix nanos
	detached bool
}

// NewFileViewer returns a Viewer that stores the image under dir.
func NewFileViewer(dir string) Viewer {
	return &fileViewer{path: filepath.Join(dir, "qrcode.png")}
}

func (v *fileViewer) Display(png []byte) error {
	if err := os.WriteFile(v.path, png, 0600); err != nil {
		return err
	}
	log.Info().Str("path", v.path).Msg("QR image written")

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", v.path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", v.path)
	default:
		cmd = exec.Command("xdg-open", v.path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	v.cmd = cmd
	v.started = time.Now()
	go func() {
		cmd.Wait()
		v.exitedAt.Store(time.Now().UnixNano())
		v.exited.Store(true)
	}()
	return nil
}

func (v *fileViewer) IsOpen() bool {
	if v.cmd == nil || v.detached {
		return true
	}
	if v.exited.Load() {
		// Launchers like xdg-open hand off to the desktop and exit at
		// once; an instant exit says nothing about the window itself.
		if time.Unix(0, v.exitedAt.Load()).Sub(v.started) < time.Second {
			v.detached = true
			return true
		}
		return false
	}
	return true
}

func (v *fileViewer) Close() {
	if v.cmd != nil && v.cmd.Process != nil && !v.exited.Load() && !v.detached {
		v.cmd.Process.Kill()
	}
	os.Remove(v.path)
}
