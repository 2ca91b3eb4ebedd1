// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeString(model promptModel, text string) promptModel {
	for _, r := range text {
		updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		model = updated.(promptModel)
	}
	return model
}

func TestPromptMasksTypedPassphrase(t *testing.T) {
	model := typeString(newPromptModel("Unlock vault.kdbx"), "hunter2")

	if got := model.passphrase(); got != "hunter2" {
		t.Errorf("passphrase = %q, want %q", got, "hunter2")
	}
	if view := model.View(); strings.Contains(view, "hunter2") {
		t.Error("view echoes the passphrase")
	}
}

func TestPromptSubmitsOnEnter(t *testing.T) {
	model := typeString(newPromptModel("Unlock"), "pw")

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model = updated.(promptModel)

	if !model.submitted || model.cancelled {
		t.Errorf("submitted=%v cancelled=%v, want submitted", model.submitted, model.cancelled)
	}
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	if message := cmd(); message != (tea.QuitMsg{}) {
		t.Errorf("enter produced %T, want tea.QuitMsg", message)
	}
}

func TestPromptRefusesEmptySubmit(t *testing.T) {
	updated, cmd := newPromptModel("Unlock").Update(tea.KeyMsg{Type: tea.KeyEnter})
	model := updated.(promptModel)

	if model.submitted {
		t.Error("empty passphrase accepted")
	}
	if cmd != nil {
		t.Error("empty submit quit the dialog")
	}
}

func TestPromptCancels(t *testing.T) {
	for _, keyType := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		updated, cmd := typeString(newPromptModel("Unlock"), "partial").
			Update(tea.KeyMsg{Type: keyType})
		model := updated.(promptModel)

		if !model.cancelled || model.submitted {
			t.Errorf("key %v: cancelled=%v submitted=%v, want cancelled",
				keyType, model.cancelled, model.submitted)
		}
		if cmd == nil {
			t.Fatalf("key %v returned no command", keyType)
		}
		if message := cmd(); message != (tea.QuitMsg{}) {
			t.Errorf("key %v produced %T, want tea.QuitMsg", keyType, message)
		}
	}
}

func TestPromptViewShowsPromptText(t *testing.T) {
	view := newPromptModel("Unlock vault.kdbx").View()
	if !strings.Contains(view, "Unlock vault.kdbx") {
		t.Errorf("view does not show the prompt text:\n%s", view)
	}
}

func TestPromptViewClearsAfterQuit(t *testing.T) {
	model := typeString(newPromptModel("Unlock"), "pw")
	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if view := updated.(promptModel).View(); view != "" {
		t.Errorf("final view not empty: %q", view)
	}
}
