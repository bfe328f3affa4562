package notify

import (
	"testing"

	"github.com/roelfdiedericks/golisten/internal/config"
)

type recorder struct {
	played []string
	beeps  []float64
	alerts []string
}

func newTestNotifier(cfg config.NotifyConfig, goos string) (*Notifier, *recorder) {
	r := &recorder{}
	n := New(cfg)
	n.goos = goos
	n.play = func(path string) error { r.played = append(r.played, path); return nil }
	n.beep = func(freq float64, ms int) error { r.beeps = append(r.beeps, freq); return nil }
	n.alert = func(title, message string) error { r.alerts = append(r.alerts, title+": "+message); return nil }
	return n, r
}

func TestSoundNames(t *testing.T) {
	n := New(config.Default().Notify)
	want := map[Event]string{
		Started: "Ping",
		Stopped: "Tink",
		Done:    "Glass",
		Failed:  "Basso",
		Warning: "Sosumi",
	}
	for e, name := range want {
		if got := n.SoundName(e); got != name {
			t.Errorf("SoundName(%s) = %q, want %q", e, got, name)
		}
	}
}

func TestPlayBeepsOffDarwin(t *testing.T) {
	n, r := newTestNotifier(config.Default().Notify, "linux")
	n.Play(Done)
	n.Play(Failed)

	if len(r.played) != 0 {
		t.Errorf("afplay used on linux: %v", r.played)
	}
	if len(r.beeps) != 2 || r.beeps[0] != tones[Done].freq || r.beeps[1] != tones[Failed].freq {
		t.Errorf("beeps = %v", r.beeps)
	}
}

func TestPlayDarwinMissingSoundFallsBack(t *testing.T) {
	cfg := config.Default().Notify
	cfg.DoneSound = "DefinitelyNotASystemSound"
	n, r := newTestNotifier(cfg, "darwin")
	n.Play(Done)

	if len(r.played) != 0 || len(r.beeps) != 1 {
		t.Errorf("played=%v beeps=%v, want one beep", r.played, r.beeps)
	}
}

func TestSilent(t *testing.T) {
	cfg := config.Default().Notify
	cfg.Silent = true
	n, r := newTestNotifier(cfg, "linux")
	for _, e := range []Event{Started, Stopped, Done, Failed, Warning} {
		n.Play(e)
	}
	n.Alert("golisten", "Microphone unavailable")

	if len(r.played)+len(r.beeps)+len(r.alerts) != 0 {
		t.Errorf("silent notifier made noise: %+v", r)
	}
}

func TestAlert(t *testing.T) {
	n, r := newTestNotifier(config.Default().Notify, "linux")
	n.Alert("golisten", "Nothing to stop")
	if len(r.alerts) != 1 || r.alerts[0] != "golisten: Nothing to stop" {
		t.Errorf("alerts = %v", r.alerts)
	}
}
