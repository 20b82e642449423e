package support

import (
	"fmt"

	"github.com/mattn/go-isatty"

	"streamlaunch/native/internal/domain"
	"streamlaunch/native/internal/webrtc"
)

// Message is shown instead of any view when the client cannot stream.
const Message = "Your client is currently unsupported"

// Env describes where the client is running.
type Env struct {
	// VideoFd is the descriptor video is written to, or NoFd for a file sink.
	VideoFd uintptr
	// Interactive is set when the terminal UI owns the terminal.
	Interactive bool
}

// Check reports whether this client can stream. It performs no network I/O.
func Check(env Env) error {
	if _, err := webrtc.NewMediaEngine(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsupported, err)
	}
	return checkTerminal(env, IsTerminal)
}

func checkTerminal(env Env, isTerminal func(uintptr) bool) error {
	if env.Interactive && env.VideoFd != NoFd && isTerminal(env.VideoFd) {
		return fmt.Errorf("%w: video output is the terminal", domain.ErrUnsupported)
	}
	return nil
}

// NoFd marks a sink that is not a terminal candidate.
const NoFd = ^uintptr(0)

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
