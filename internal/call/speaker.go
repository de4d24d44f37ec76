package call

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/solvencyai/voicecollect/internal/tts"
)

// AudioChannel is the outbound half of the duplex media stream.
type AudioChannel interface {
	SendAudio(chunk []byte) error
	Clear() error
}

// Speaker streams synthesized speech to the caller chunk by chunk and
// estimates playback duration from text length. The transport gives no
// signal that the far end finished hearing playback, so the estimate is
// what termination scheduling has to work with. It never feeds billing.
type Speaker struct {
	synth          tts.Synthesizer
	charsPerSecond int
	trailing       time.Duration
}

func NewSpeaker(synth tts.Synthesizer, charsPerSecond int, trailing time.Duration) *Speaker {
	if charsPerSecond <= 0 {
		charsPerSecond = 15
	}
	return &Speaker{
		synth:          synth,
		charsPerSecond: charsPerSecond,
		trailing:       trailing,
	}
}

// Estimate returns how long the text should take to play: characters over
// the assumed speaking rate, plus a trailing buffer for the last words to
// reach the far end.
func (s *Speaker) Estimate(text string) time.Duration {
	seconds := float64(len(text)) / float64(s.charsPerSecond)
	return time.Duration(seconds*float64(time.Second)) + s.trailing
}

// Stream synthesizes text and forwards each audio chunk to the channel as
// it arrives. It returns once the synthesis stream is drained or the
// context is canceled.
func (s *Speaker) Stream(ctx context.Context, out AudioChannel, text string) error {
	body, err := s.synth.Stream(ctx, text)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if sendErr := out.SendAudio(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
