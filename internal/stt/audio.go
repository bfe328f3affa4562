package stt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/zeozeozeo/gomplerate"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

const (
	targetSampleRate = 16000 // whisper.cpp input rate
	opusMaxFrame     = 5760  // 120ms at 48kHz
)

// pcm is interleaved signed 16-bit audio.
type pcm struct {
	samples  []int16
	rate     int
	channels int
}

// whisperReady folds p to mono at targetSampleRate and scales it to [-1, 1].
func (p pcm) whisperReady() []float32 {
	mono := p.samples
	if p.channels > 1 {
		mono = make([]int16, len(p.samples)/p.channels)
		for i := range mono {
			var sum int32
			for _, s := range p.samples[i*p.channels : (i+1)*p.channels] {
				sum += int32(s)
			}
			mono[i] = int16(sum / int32(p.channels)) // #nosec G115 - mean of int16 values
		}
	}

	if p.rate != targetSampleRate && p.rate > 0 {
		r, err := gomplerate.NewResampler(1, p.rate, targetSampleRate)
		if err != nil {
			L_warn("stt: cannot resample, using audio as is", "from", p.rate, "error", err)
		} else {
			L_debug("stt: resampling", "from", p.rate, "to", targetSampleRate)
			mono = r.ResampleInt16(mono)
		}
	}

	out := make([]float32, len(mono))
	for i, s := range mono {
		out[i] = float32(s) / 32768
	}
	return out
}

// ConvertToFloat32 loads an audio file as 16kHz mono float32 samples.
// WAV is decoded in Go. Ogg/Opus prefers ffmpeg and falls back to a Go
// decoder. Every other format needs ffmpeg.
func ConvertToFloat32(path string) ([]float32, error) {
	var (
		p   pcm
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		p, err = decodeWAV(path)
	case ".ogg", ".oga", ".opus":
		if hasFFmpeg() {
			p, err = decodeFFmpeg(path)
			break
		}
		if p, err = decodeOggOpus(path); err != nil {
			err = fmt.Errorf("%w (installing ffmpeg usually fixes this)", err)
		}
	default:
		if !hasFFmpeg() {
			return nil, fmt.Errorf("unsupported audio format %q without ffmpeg", ext)
		}
		p, err = decodeFFmpeg(path)
	}
	if err != nil {
		return nil, err
	}
	if len(p.samples) == 0 {
		return nil, fmt.Errorf("no audio samples in %s", path)
	}
	return p.whisperReady(), nil
}

// Duration is the playing time of a WAV file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a WAV file: %s", path)
	}
	return dec.Duration()
}

func decodeWAV(path string) (pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return pcm{}, fmt.Errorf("not a WAV file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("decode WAV: %w", err)
	}
	L_debug("stt: wav", "rate", buf.Format.SampleRate, "channels", buf.Format.NumChannels, "bits", dec.BitDepth)

	return pcm{
		samples:  to16Bit(buf, int(dec.BitDepth)),
		rate:     buf.Format.SampleRate,
		channels: buf.Format.NumChannels,
	}, nil
}

// to16Bit rescales samples of any WAV bit depth.
func to16Bit(buf *audio.IntBuffer, depth int) []int16 {
	out := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		switch {
		case depth == 8:
			s = (s - 128) << 8 // 8-bit WAV is unsigned
		case depth > 16:
			s >>= depth - 16
		}
		out[i] = int16(s) // #nosec G115 - scaled into range above
	}
	return out
}

// decodeOggOpus decodes Ogg/Opus in Go. The opus decoder can panic on
// malformed packets, which is turned into an error.
func decodeOggOpus(path string) (p pcm, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_warn("stt: opus decoder panicked", "panic", r)
			p, err = pcm{}, fmt.Errorf("opus decoder panic: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return pcm{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	ogg, header, err := oggreader.NewWith(f)
	if err != nil {
		return pcm{}, fmt.Errorf("read ogg: %w", err)
	}
	p = pcm{rate: int(header.SampleRate), channels: int(header.Channels)}

	dec := opus.NewDecoder()
	frame := make([]byte, opusMaxFrame*p.channels*2)
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pcm{}, fmt.Errorf("read ogg page: %w", err)
		}
		for _, seg := range segments {
			if len(seg) == 0 {
				continue
			}
			if _, _, err := dec.Decode(seg, frame); err != nil {
				L_trace("stt: skipping opus packet", "error", err, "len", len(seg))
				continue
			}
			p.samples = append(p.samples, trimmedLE16(frame)...)
		}
	}
	return p, nil
}

// trimmedLE16 reads little-endian samples, dropping the all-zero tail the
// decoder leaves after a short frame.
func trimmedLE16(buf []byte) []int16 {
	end := len(buf) &^ 1
	for end > 2 && buf[end-1] == 0 && buf[end-2] == 0 {
		end -= 2
	}
	out := make([]int16, end/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:])) // #nosec G115 - reinterpreting PCM bits
	}
	return out
}

func hasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// decodeFFmpeg has ffmpeg write 16kHz mono s16le to stdout.
func decodeFFmpeg(path string) (pcm, error) {
	var stdout, stderr bytes.Buffer
	// #nosec G204 - path is a recording or a file the user named
	cmd := exec.Command("ffmpeg", "-nostdin", "-loglevel", "error",
		"-i", path,
		"-ar", strconv.Itoa(targetSampleRate), "-ac", "1",
		"-f", "s16le", "-acodec", "pcm_s16le", "pipe:1")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return pcm{}, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:])) // #nosec G115 - reinterpreting PCM bits
	}
	return pcm{samples: out, rate: targetSampleRate, channels: 1}, nil
}
