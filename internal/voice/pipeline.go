// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/companion/internal/audio"
	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/metrics"
)

// Synthesis tier labels used in metrics and logs.
const (
	tierStream   = "stream"
	tierDownload = "download"
)

// Synthesizer produces audio for text in a voice.
type Synthesizer interface {
	// Stream uses the streaming endpoint and returns the collected bytes.
	Stream(ctx context.Context, text, voiceID string) ([]byte, error)
	// Synthesize uses the full-download endpoint.
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// PipelineOptions tunes a Pipeline.
type PipelineOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Pipeline speaks text through the tier chain and owns the single playback.
// It is safe for concurrent use; a new utterance stops the previous one.
type Pipeline struct {
	synth    Synthesizer
	resolver *Resolver
	player   audio.Player
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	seq      uint64
	speaking bool

	// notifyMu orders indicator callbacks against the seq checks that
	// decide them, so a stale "on" never follows an "off".
	notifyMu sync.Mutex

	cbMu       sync.RWMutex
	onSpeaking func(bool)
}

// NewPipeline creates a Pipeline. resolver may be nil when callers always
// use Speak with an explicit voice.
func NewPipeline(synth Synthesizer, resolver *Resolver, player audio.Player, opts PipelineOptions) *Pipeline {
	if player == nil {
		player = audio.DiscardPlayer{}
	}
	return &Pipeline{
		synth:    synth,
		resolver: resolver,
		player:   player,
		logger:   logging.OrDiscard(opts.Logger),
		metrics:  opts.Metrics,
	}
}

// SetOnSpeaking registers a callback for the speaking indicator.
func (p *Pipeline) SetOnSpeaking(fn func(bool)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.onSpeaking = fn
}

// Speaking reports whether an utterance is being synthesized or played.
func (p *Pipeline) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Say resolves a voice for hint and speaks text with it.
func (p *Pipeline) Say(ctx context.Context, text, hint string) error {
	return p.run(ctx, text, func(ctx context.Context) (string, error) {
		if p.resolver == nil {
			return "", ErrNoVoice
		}
		res, err := p.resolver.Resolve(ctx, hint)
		if err != nil {
			return "", err
		}
		p.logger.Debug("voice resolved", "voice", res.VoiceID, "tier", string(res.Tier))
		return res.VoiceID, nil
	})
}

// Speak speaks text with voiceID. It blocks until playback ends. Failure of
// both tiers returns an error wrapping ErrSilent; cancellation returns the
// context error.
func (p *Pipeline) Speak(ctx context.Context, text, voiceID string) error {
	return p.run(ctx, text, func(context.Context) (string, error) {
		return voiceID, nil
	})
}

// Stop cancels any in-flight synthesis and releases the playback before
// returning.
func (p *Pipeline) Stop() {
	p.notifyMu.Lock()
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.seq++
	wasSpeaking := p.speaking
	p.speaking = false
	p.mu.Unlock()
	if wasSpeaking {
		p.notifySpeaking(false)
	}
	p.notifyMu.Unlock()

	p.player.Stop()
}

func (p *Pipeline) run(ctx context.Context, text string, voiceFor func(context.Context) (string, error)) error {
	spoken := Normalize(text)
	if spoken == "" {
		return ErrNothingToSay
	}

	ctx, seq := p.begin(ctx)
	defer p.end(seq)

	voiceID, err := voiceFor(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("voice resolution failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSilent, err)
	}

	clip, err := p.synthesize(ctx, spoken, voiceID)
	if err != nil {
		return err
	}

	if err := p.player.Play(ctx, clip); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, audio.ErrStopped) {
			return context.Canceled
		}
		p.logger.Warn("audio playback failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSilent, err)
	}
	return nil
}

// synthesize runs the tier chain: streaming, then full download, then
// silence. Cancellation ends the chain without trying the next tier.
func (p *Pipeline) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	clip, err := p.synth.Stream(ctx, text, voiceID)
	if err == nil {
		p.metrics.VoiceTier(tierStream, metrics.ResultOK)
		return clip, nil
	}
	if cancelled(ctx, err) {
		p.metrics.VoiceTier(tierStream, metrics.ResultCancelled)
		return nil, context.Canceled
	}
	p.metrics.VoiceTier(tierStream, metrics.ResultFailed)
	p.logger.Debug("streaming synthesis failed, trying full download", "voice", voiceID, "error", err)

	clip, err = p.synth.Synthesize(ctx, text, voiceID)
	if err == nil {
		p.metrics.VoiceTier(tierDownload, metrics.ResultOK)
		return clip, nil
	}
	if cancelled(ctx, err) {
		p.metrics.VoiceTier(tierDownload, metrics.ResultCancelled)
		return nil, context.Canceled
	}
	p.metrics.VoiceTier(tierDownload, metrics.ResultFailed)
	p.logger.Info("voice synthesis unavailable", "voice", voiceID, "error", err)
	return nil, fmt.Errorf("%w: %v", ErrSilent, err)
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// begin stops the previous utterance and makes a new one current.
func (p *Pipeline) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.seq++
	seq := p.seq
	p.speaking = true
	p.mu.Unlock()

	p.player.Stop()

	// A Stop or newer utterance may have taken over while the previous
	// playback was released.
	p.notifyMu.Lock()
	p.mu.Lock()
	current := p.seq == seq && p.speaking
	p.mu.Unlock()
	if current {
		p.notifySpeaking(true)
	}
	p.notifyMu.Unlock()
	return ctx, seq
}

// end clears the speaking indicator if seq is still the current utterance.
func (p *Pipeline) end(seq uint64) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	current := p.seq == seq
	if current {
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.speaking = false
	}
	p.mu.Unlock()

	if current {
		p.notifySpeaking(false)
	}
}

func (p *Pipeline) notifySpeaking(on bool) {
	p.cbMu.RLock()
	fn := p.onSpeaking
	p.cbMu.RUnlock()
	if fn != nil {
		fn(on)
	}
}
