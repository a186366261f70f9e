package watch

import (
	"strings"
	"time"
)

// Spinner shows event activity with dots that fade after the last event.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(at time.Time) {
	s.dots = 5
	s.lastEvent = at
}

// Decay drops one dot per two seconds of silence.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	s.dots = max(0, 5-int(now.Sub(s.lastEvent)/(2*time.Second)))
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) Dots() int { return s.dots }

func (s Spinner) LastEvent() time.Time { return s.lastEvent }
