// Package notify triggers desktop notification and sound cues when a phase
// completes. Both are fire-and-forget: the timer core only triggers them,
// rendering belongs to the host desktop, and failures are swallowed.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
)

// Notifier shells out to platform notification tooling on phase completion.
type Notifier struct {
	notifyCommand string // optional override, run via the shell with TITLE/BODY env
	soundCommand  string // optional sound cue command
}

// New creates a notifier. Empty commands select the platform default
// notification tool and no sound.
func New(notifyCommand, soundCommand string) *Notifier {
	return &Notifier{notifyCommand: notifyCommand, soundCommand: soundCommand}
}

// PhaseComplete emits the notification and sound cue for a completed phase.
// Returns immediately; the commands run in the background.
func (n *Notifier) PhaseComplete(completed, next models.Phase) {
	title, body := message(completed, next)

	go n.runNotify(title, body)
	if n.soundCommand != "" {
		go n.runSound()
	}
}

func message(completed, next models.Phase) (string, string) {
	switch completed {
	case models.PhaseWork:
		if next == models.PhaseLongBreak {
			return "Work session complete", "Time for a long break."
		}
		return "Work session complete", "Time for a short break."
	case models.PhaseLongBreak:
		return "Long break over", "Ready for the next work session."
	default:
		return "Break over", "Ready for the next work session."
	}
}

func (n *Notifier) runNotify(title, body string) {
	var cmd *exec.Cmd

	if n.notifyCommand != "" {
		cmd = exec.Command("sh", "-c", n.notifyCommand)
		cmd.Env = append(cmd.Environ(), "TITLE="+title, "BODY="+body)
	} else {
		switch runtime.GOOS {
		case "darwin":
			script := fmt.Sprintf("display notification %q with title %q", body, title)
			cmd = exec.Command("osascript", "-e", script)
		case "linux":
			cmd = exec.Command("notify-send", title, body)
		default:
			log.Debug().Str("os", runtime.GOOS).Msg("No notification tool for platform")
			return
		}
	}

	if err := cmd.Run(); err != nil {
		log.Debug().Err(err).Msg("Notification command failed")
	}
}

func (n *Notifier) runSound() {
	cmd := exec.Command("sh", "-c", n.soundCommand)
	if err := cmd.Run(); err != nil {
		log.Debug().Err(err).Msg("Sound command failed")
	}
}
