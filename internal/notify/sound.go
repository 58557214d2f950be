package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Sound проигрывает сигнал о новом заказе: внешней командой, если она задана,
// иначе системным beep.
type Sound struct {
	command []string
	run     func(ctx context.Context, name string, args ...string) error
	beep    func() error
}

// NewSound разбирает команду проигрывателя, например "paplay /usr/share/sounds/bell.oga".
func NewSound(command string) *Sound {
	return &Sound{
		command: strings.Fields(command),
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

func (s *Sound) Name() string { return "sound" }

func (s *Sound) Accepts(kind domain.EventKind) bool {
	return kind == domain.EventNewOrder
}

func (s *Sound) Notify(ctx context.Context, _ domain.Event) error {
	if len(s.command) == 0 {
		return s.beep()
	}
	return s.run(ctx, s.command[0], s.command[1:]...)
}
