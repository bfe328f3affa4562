package indicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/term"

	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/state"
)

const (
	meterWidth    = 30
	meterFrame    = 50 * time.Millisecond
	meterWindow   = 100 * time.Millisecond // audio analysed per frame
	meterRecheck  = 250 * time.Millisecond // stop-marker fallback poll
	wavHeaderSize = 44
)

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	peakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	labelStyle = lipgloss.NewStyle().Bold(true)
)

// Meter is the built-in indicator. It follows the growing audio artifact,
// renders its level when attached to a terminal, and exits once the stop
// marker appears.
type Meter struct {
	store *state.Store
	out   io.Writer
	tty   bool

	format *audio.Format
	bits   int
}

// NewMeter creates a meter writing to out.
func NewMeter(store *state.Store, out *os.File) *Meter {
	return &Meter{
		store: store,
		out:   out,
		tty:   term.IsTerminal(int(out.Fd())),
	}
}

// Run blocks until the stop marker exists or ctx is done.
func (m *Meter) Run(ctx context.Context) error {
	if m.stopRequested() {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("meter: watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the marker does not exist yet, so it cannot be
	// watched directly.
	if err := watcher.Add(m.store.Dir); err != nil {
		return fmt.Errorf("meter: watch %s: %w", m.store.Dir, err)
	}

	frame := time.NewTicker(meterFrame)
	defer frame.Stop()
	recheck := time.NewTicker(meterRecheck)
	defer recheck.Stop()

	stopPath := filepath.Clean(m.store.IndicatorStopPath())
	defer m.clearLine()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == stopPath && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				L_debug("meter: stop marker seen")
				return nil
			}
		case err, ok := <-watcher.Errors:
			if ok {
				L_debug("meter: watcher error", "error", err)
			}
		case <-recheck.C:
			// fsnotify can miss events on some filesystems
			if m.stopRequested() {
				return nil
			}
		case <-frame.C:
			level, err := m.Level()
			if err != nil {
				L_trace("meter: level unavailable", "error", err)
				continue
			}
			m.render(level)
		}
	}
}

func (m *Meter) stopRequested() bool {
	_, err := os.Stat(m.store.IndicatorStopPath())
	return err == nil
}

// Level returns the RMS level (0..1) of the most recent audio in the artifact.
func (m *Meter) Level() (float64, error) {
	f, err := os.Open(m.store.AudioPath())
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if m.format == nil {
		if err := m.readFormat(f); err != nil {
			return 0, err
		}
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	bytesPerSample := m.bits / 8
	frameBytes := bytesPerSample * m.format.NumChannels
	window := int64(float64(m.format.SampleRate)*meterWindow.Seconds()) * int64(frameBytes)
	start := info.Size() - window
	if start < wavHeaderSize {
		start = wavHeaderSize
	}
	// keep frame alignment
	start -= (start - wavHeaderSize) % int64(frameBytes)

	raw := make([]byte, info.Size()-start)
	n, err := f.ReadAt(raw, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	raw = raw[:n-n%bytesPerSample]
	if len(raw) == 0 {
		return 0, nil
	}

	buf := &audio.IntBuffer{Format: m.format, SourceBitDepth: m.bits, Data: decodePCM(raw, m.bits)}
	return rms(buf), nil
}

// readFormat takes channel count, rate and depth from the WAV header.
// The data chunk size is still a placeholder while capture is running,
// so the samples themselves are read raw.
func (m *Meter) readFormat(f *os.File) error {
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("meter: read wav header: %w", err)
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		return fmt.Errorf("meter: unsupported bit depth %d", dec.BitDepth)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return fmt.Errorf("meter: incomplete wav header")
	}
	m.format = &audio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)}
	m.bits = int(dec.BitDepth)
	return nil
}

// decodePCM converts little-endian signed PCM to ints.
func decodePCM(raw []byte, bits int) []int {
	step := bits / 8
	out := make([]int, 0, len(raw)/step)
	for i := 0; i+step <= len(raw); i += step {
		var v int32
		switch step {
		case 2:
			v = int32(int16(uint16(raw[i]) | uint16(raw[i+1])<<8))
		case 3:
			v = int32(uint32(raw[i])|uint32(raw[i+1])<<8|uint32(raw[i+2])<<16) << 8 >> 8
		case 4:
			v = int32(uint32(raw[i]) | uint32(raw[i+1])<<8 | uint32(raw[i+2])<<16 | uint32(raw[i+3])<<24)
		}
		out = append(out, int(v))
	}
	return out
}

func rms(buf *audio.IntBuffer) float64 {
	if len(buf.Data) == 0 {
		return 0
	}
	full := math.Pow(2, float64(buf.SourceBitDepth-1))
	var sum float64
	for _, s := range buf.Data {
		v := float64(s) / full
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(len(buf.Data))))
}

func (m *Meter) render(level float64) {
	if !m.tty {
		return
	}
	fmt.Fprintf(m.out, "\r%s %s", labelStyle.Render("● REC"), Bar(level, meterWidth))
}

func (m *Meter) clearLine() {
	if m.tty {
		fmt.Fprint(m.out, "\r\033[K")
	}
}

// Bar renders level (0..1) as a fixed-width bar. Speech RMS rarely exceeds
// 0.3, so the scale is boosted before filling.
func Bar(level float64, width int) string {
	scaled := math.Min(1, math.Sqrt(level)*1.5)
	filled := int(math.Round(scaled * float64(width)))
	hot := width * 85 / 100

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i >= filled:
			b.WriteString(emptyStyle.Render("░"))
		case i >= hot:
			b.WriteString(peakStyle.Render("█"))
		default:
			b.WriteString(barStyle.Render("█"))
		}
	}
	return b.String()
}
