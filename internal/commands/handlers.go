// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/voice"
)

var (
	// ErrNoConversation is returned when a command needs a saved conversation
	// and none is attached.
	ErrNoConversation = errors.New("no saved conversation yet; send a message first")

	// ErrNoThreads is returned for numbered lookups before the list is loaded.
	ErrNoThreads = errors.New("no conversations listed; run /threads first")

	// ErrVoiceUnavailable is returned when voice commands have no voice backend.
	ErrVoiceUnavailable = errors.New("voice is not configured")
)

// autoVoice clears the explicit voice choice.
const autoVoice = "auto"

// =============================================================================
// NAVIGATION
// =============================================================================

func (r *Registry) handleHelp(_ context.Context, _ *Env, _ ParseResult) (Result, error) {
	var b strings.Builder
	byCat := make(map[string][]*Command)
	var cats []string
	for _, cmd := range r.All() {
		if _, ok := byCat[cmd.Category]; !ok {
			cats = append(cats, cmd.Category)
		}
		byCat[cmd.Category] = append(byCat[cmd.Category], cmd)
	}

	for i, cat := range orderCategories(cats) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(cat + ":\n")
		for _, cmd := range byCat[cat] {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			fmt.Fprintf(&b, "  %-22s %s\n", usage, cmd.Description)
		}
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

var categoryOrder = []string{"Navigation", "Conversation", "Threads", "Voice"}

// orderCategories puts known categories first in a fixed order.
func orderCategories(cats []string) []string {
	seen := make(map[string]bool, len(cats))
	for _, c := range cats {
		seen[c] = true
	}
	out := make([]string, 0, len(cats))
	for _, c := range categoryOrder {
		if seen[c] {
			out = append(out, c)
			delete(seen, c)
		}
	}
	for _, c := range cats {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

func handleQuit(_ context.Context, _ *Env, _ ParseResult) (Result, error) {
	return Result{Quit: true}, nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

func handleNew(_ context.Context, env *Env, _ ParseResult) (Result, error) {
	env.Session.Reset()
	return Result{Output: "Started a new conversation."}, nil
}

func handleStop(_ context.Context, env *Env, _ ParseResult) (Result, error) {
	env.Session.Stop()
	return Result{}, nil
}

// =============================================================================
// THREADS
// =============================================================================

func handleThreads(ctx context.Context, env *Env, _ ParseResult) (Result, error) {
	if env.Index == nil {
		return Result{}, errors.New("thread list is not available")
	}
	if env.Lister != nil {
		if err := env.Index.Load(ctx, env.Lister); err != nil {
			return Result{}, fmt.Errorf("load threads: %w", err)
		}
	}
	return Result{Output: threads.FormatThreadList(env.Index.Threads())}, nil
}

func handleOpen(_ context.Context, env *Env, p ParseResult) (Result, error) {
	th, err := LookupThread(env, p.Args[0])
	if err != nil {
		return Result{}, err
	}
	if th.IsPending() {
		return Result{}, errors.New("that conversation is still being saved")
	}
	env.Session.Attach(th)
	return Result{Output: fmt.Sprintf("Continuing %q.", displayTitle(th))}, nil
}

func handleRename(ctx context.Context, env *Env, p ParseResult) (Result, error) {
	id := env.Session.ThreadID()
	if id == "" {
		return Result{}, ErrNoConversation
	}
	title, err := env.Session.Rename(ctx, id, strings.Join(p.Args, " "))
	if err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Renamed to %q.", title)}, nil
}

func pinHandler(pinned bool) Handler {
	return func(ctx context.Context, env *Env, p ParseResult) (Result, error) {
		th, err := target(env, p)
		if err != nil {
			return Result{}, err
		}
		if err := env.Session.SetPinned(ctx, th.ID, pinned); err != nil {
			return Result{}, err
		}
		verb := "Pinned"
		if !pinned {
			verb = "Unpinned"
		}
		return Result{Output: fmt.Sprintf("%s %q.", verb, displayTitle(th))}, nil
	}
}

func handleDelete(ctx context.Context, env *Env, p ParseResult) (Result, error) {
	th, err := target(env, p)
	if err != nil {
		return Result{}, err
	}
	if err := env.Session.DeleteThread(ctx, th.ID); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Deleted %q.", displayTitle(th))}, nil
}

// target is the thread named by the first argument, or the attached one.
func target(env *Env, p ParseResult) (model.Thread, error) {
	if len(p.Args) > 0 {
		return LookupThread(env, p.Args[0])
	}
	id := env.Session.ThreadID()
	if id == "" {
		return model.Thread{}, ErrNoConversation
	}
	if env.Index != nil {
		if th, ok := env.Index.Get(id); ok {
			return th, nil
		}
	}
	st := env.Session.Snapshot()
	return model.Thread{ID: id, Title: st.Title, Pinned: st.Pinned}, nil
}

// LookupThread resolves a 1-based position in the listed threads or an id.
func LookupThread(env *Env, ref string) (model.Thread, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if env.Index == nil || env.Index.Len() == 0 {
			return model.Thread{}, ErrNoThreads
		}
		list := env.Index.Threads()
		if n < 1 || n > len(list) {
			return model.Thread{}, fmt.Errorf("no conversation #%d (1-%d)", n, len(list))
		}
		return list[n-1], nil
	}
	if env.Index != nil {
		if th, ok := env.Index.Get(ref); ok {
			return th, nil
		}
	}
	return model.Thread{ID: ref}, nil
}

func displayTitle(th model.Thread) string {
	if th.Title == "" {
		return th.ID
	}
	return th.Title
}

// =============================================================================
// VOICE
// =============================================================================

func handleVoice(ctx context.Context, env *Env, p ParseResult) (Result, error) {
	if env.Voice == nil {
		return Result{}, ErrVoiceUnavailable
	}
	if len(p.Args) == 0 {
		if id := env.Voice.UserVoice(); id != "" {
			return Result{Output: "Voice: " + id}, nil
		}
		return Result{Output: "Voice: automatic"}, nil
	}

	id := strings.ToLower(p.Args[0])
	if id == autoVoice || id == "default" {
		id = ""
	} else if env.Catalog != nil {
		cat, err := env.Catalog.Voices(ctx)
		if err == nil && !hasVoice(cat.Voices, id) {
			return Result{}, fmt.Errorf("unknown voice %q (see /voices)", id)
		}
	}

	env.Voice.SetUserVoice(id)
	if env.OnVoiceChange != nil {
		if err := env.OnVoiceChange(id); err != nil {
			return Result{Output: "Voice changed for this session only."}, fmt.Errorf("save voice: %w", err)
		}
	}
	if id == "" {
		return Result{Output: "Voice: automatic"}, nil
	}
	return Result{Output: "Voice: " + id}, nil
}

func handleVoices(ctx context.Context, env *Env, _ ParseResult) (Result, error) {
	if env.Catalog == nil {
		return Result{}, ErrVoiceUnavailable
	}
	cat, err := env.Catalog.Voices(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list voices: %w", err)
	}
	if len(cat.Voices) == 0 {
		return Result{Output: "No voices available."}, nil
	}

	selected := ""
	if env.Voice != nil {
		selected = env.Voice.UserVoice()
	}
	var b strings.Builder
	for _, v := range cat.Voices {
		mark := " "
		if v.ID == selected {
			mark = "*"
		}
		line := fmt.Sprintf("%s %-12s %s", mark, v.ID, v.Name)
		if v.ID == cat.Default {
			line += " (default)"
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func hasVoice(list []voice.Voice, id string) bool {
	for _, v := range list {
		if v.ID == id {
			return true
		}
	}
	return false
}

func handleSpeak(_ context.Context, env *Env, p ParseResult) (Result, error) {
	on := strings.ToLower(p.Args[0]) == "on"
	env.Session.SetAutoSpeak(on)
	if env.OnAutoSpeak != nil {
		env.OnAutoSpeak(on)
	}
	if on {
		return Result{Output: "Reading answers aloud."}, nil
	}
	return Result{Output: "No longer reading answers aloud."}, nil
}
