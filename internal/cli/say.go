// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/companion/internal/voice"
)

// ErrVoiceDisabled is returned when speech is requested but nothing can play it.
var ErrVoiceDisabled = errors.New("voice playback is not available (set voice.enabled and a player, or use --out)")

type sayFlags struct {
	voice string
	out   string
}

func newSayCommand(flags *globalFlags) *cobra.Command {
	sf := &sayFlags{}
	cmd := &cobra.Command{
		Use:   "say <text...>",
		Short: "Speak text aloud",
		Long: `Speak text through the voice pipeline. Without --voice the saved voice
choice is used, then a voice fitting the text, then the server default.`,
		Example: `  $ companion say Good morning
  $ companion say --voice calm Time for a story
  $ companion say --out hello.wav Hello there`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(flags)
			if err != nil {
				return err
			}
			text := voice.Normalize(strings.Join(args, " "))
			if text == "" {
				return errors.New("nothing to say")
			}

			a, err := newApp(cfg, path, appOptions{stderr: cmd.ErrOrStderr(), speech: sf.out == ""})
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if sf.out != "" {
				voiceID := sf.voice
				if voiceID == "" {
					res, err := a.resolver.Resolve(ctx, text)
					if err != nil {
						return err
					}
					voiceID = res.VoiceID
				}
				clip, err := a.voice.Synthesize(ctx, text, voiceID)
				if err != nil {
					return err
				}
				if err := os.WriteFile(sf.out, clip, 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", sf.out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s.\n", len(clip), sf.out)
				return nil
			}

			if a.speech == nil {
				return ErrVoiceDisabled
			}
			if sf.voice != "" {
				err = a.speech.Speak(ctx, text, sf.voice)
			} else {
				err = a.speech.Say(ctx, text, text)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sf.voice, "voice", "", "voice id to use")
	cmd.Flags().StringVarP(&sf.out, "out", "o", "", "write the clip to this WAV file instead of playing it")
	return cmd
}
