package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Info summarizes a probed WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// ProbeWAV reads the RIFF/WAVE header and reports stream parameters. It
// fails on truncated or non-WAV content.
func ProbeWAV(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%s is not a readable WAV file", filepath.Base(path))
	}

	info := Info{
		BitDepth: int(decoder.BitDepth),
	}
	if format := decoder.Format(); format != nil {
		info.SampleRate = format.SampleRate
		info.Channels = format.NumChannels
	}
	if duration, err := decoder.Duration(); err == nil {
		info.Duration = duration
	}
	return info, nil
}

// ValidateStem checks a produced stem exists and is non-empty; WAV stems
// additionally get a header probe. Other formats are encoded by the
// engine's ffmpeg sidecar and are only checked for presence.
func ValidateStem(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stem missing: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("stem %s is a directory", filepath.Base(path))
	}
	if info.Size() == 0 {
		return fmt.Errorf("stem %s is empty", filepath.Base(path))
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if _, err := ProbeWAV(path); err != nil {
			return err
		}
	}
	return nil
}
