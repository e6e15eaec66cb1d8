package align

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// CutBuffer returns a copy of the samples of buf between start and end.
// The end is clamped to the audio, so a cut running past it is not an
// error; a start past the audio is.
func CutBuffer(buf *audio.IntBuffer, start, end time.Duration) (*audio.IntBuffer, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("buffer has no format")
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid cut %v..%v", start, end)
	}
	rate := buf.Format.SampleRate
	chans := buf.Format.NumChannels
	if rate <= 0 || chans <= 0 {
		return nil, fmt.Errorf("unusable format: %d Hz, %d channels", rate, chans)
	}
	frames := len(buf.Data) / chans
	startFrame := int(start * time.Duration(rate) / time.Second)
	endFrame := int(end * time.Duration(rate) / time.Second)
	if startFrame > frames {
		return nil, fmt.Errorf("cut starts at frame %d, audio has %d", startFrame, frames)
	}
	if endFrame > frames {
		endFrame = frames
	}
	data := make([]int, (endFrame-startFrame)*chans)
	copy(data, buf.Data[startFrame*chans:endFrame*chans])
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: chans, SampleRate: rate},
		Data:           data,
		SourceBitDepth: buf.SourceBitDepth,
	}, nil
}

// ClipWAV cuts the start..end range of the WAV file at src into a new file
// at dst, keeping the source sample rate, channel count and bit depth.
func ClipWAV(src, dst string, start, end time.Duration) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	cut, err := CutBuffer(buf, start, end)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	enc := wav.NewEncoder(out, cut.Format.SampleRate, int(dec.BitDepth), cut.Format.NumChannels, 1)
	if err := enc.Write(cut); err != nil {
		out.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Close()
}
