package audioengine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/patrickmn/go-cache"
)

// Clip is decoded mono PCM at the bank's sample rate.
type Clip struct {
	Name       string
	Samples    []float32
	SampleRate int
}

// Duration is the clip's playback time.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// SoundBank resolves event names to clips. WAV files take precedence over
// configured tones. Decoded clips are cached.
type SoundBank struct {
	dir        string
	sampleRate int
	tones      map[string]Tone
	cache      *cache.Cache
	logger     *slog.Logger
}

// NewSoundBank creates a bank over cfg.SoundBankDir and cfg.Tones.
func NewSoundBank(cfg Config, logger *slog.Logger) *SoundBank {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.cacheTTL()
	return &SoundBank{
		dir:        cfg.SoundBankDir,
		sampleRate: cfg.SampleRate,
		tones:      cfg.Tones,
		cache:      cache.New(ttl, ttl*2),
		logger:     logger,
	}
}

func (b *SoundBank) path(event string) string {
	return filepath.Join(b.dir, event+".wav")
}

func validEventName(event string) bool {
	return event != "" && !strings.ContainsAny(event, `/\`) && event != "." && event != ".."
}

// Has reports whether event resolves without decoding it.
func (b *SoundBank) Has(event string) bool {
	if !validEventName(event) {
		return false
	}
	if _, ok := b.cache.Get(event); ok {
		return true
	}
	if b.dir != "" {
		if info, err := os.Stat(b.path(event)); err == nil && !info.IsDir() {
			return true
		}
	}
	_, ok := b.tones[event]
	return ok
}

// Load returns the clip for event, decoding and caching it on first use.
func (b *SoundBank) Load(event string) (*Clip, error) {
	if !validEventName(event) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if cached, ok := b.cache.Get(event); ok {
		return cached.(*Clip), nil
	}

	clip, err := b.loadWAV(event)
	if errors.Is(err, fs.ErrNotExist) {
		tone, ok := b.tones[event]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
		}
		clip = &Clip{
			Name:       event,
			Samples:    Sine(tone.FrequencyHz, tone.DurationMs, tone.Amplitude, b.sampleRate),
			SampleRate: b.sampleRate,
		}
	} else if err != nil {
		return nil, err
	}

	b.cache.Set(event, clip, cache.DefaultExpiration)
	b.logger.Debug("clip loaded", "event", event, "samples", len(clip.Samples), "duration", clip.Duration())
	return clip, nil
}

func (b *SoundBank) loadWAV(event string) (*Clip, error) {
	if b.dir == "" {
		return nil, fs.ErrNotExist
	}
	file, err := os.Open(b.path(event))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFormat, event)
	}
	if decoder.NumChans == 0 || decoder.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %s has no format", ErrUnsupportedFormat, event)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", event, err)
	}
	samples, err := intToFloat(buf.Data, int(decoder.BitDepth))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", event, err)
	}
	samples = Downmix(samples, int(decoder.NumChans))
	samples = Resample(samples, int(decoder.SampleRate), b.sampleRate)

	return &Clip{Name: event, Samples: samples, SampleRate: b.sampleRate}, nil
}

// Events lists every resolvable event name.
func (b *SoundBank) Events() []string {
	seen := make(map[string]struct{}, len(b.tones))
	for name := range b.tones {
		seen[name] = struct{}{}
	}
	if b.dir != "" {
		entries, err := os.ReadDir(b.dir)
		if err != nil {
			b.logger.Warn("read sound bank", "dir", b.dir, "error", err)
		}
		for _, e := range entries {
			if name, ok := strings.CutSuffix(e.Name(), ".wav"); ok && !e.IsDir() {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CachedClips is the number of decoded clips held.
func (b *SoundBank) CachedClips() int {
	return b.cache.ItemCount()
}

// Flush drops every cached clip.
func (b *SoundBank) Flush() {
	b.cache.Flush()
}
