// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// promptModel is the passphrase dialog. Enter submits (refused while
// the input is empty), Esc and Ctrl+C cancel, everything else goes to
// the masked input.
type promptModel struct {
	prompt    string
	input     textinput.Model
	submitted bool
	cancelled bool
}

func newPromptModel(prompt string) promptModel {
	input := textinput.New()
	input.Prompt = "> "
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.Focus()
	return promptModel{prompt: prompt, input: input}
}

// Init implements tea.Model.
func (model promptModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (model promptModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	if message, ok := message.(tea.KeyMsg); ok {
		switch message.Type {
		case tea.KeyEnter:
			if model.input.Value() == "" {
				return model, nil
			}
			model.submitted = true
			return model, tea.Quit

		case tea.KeyEsc, tea.KeyCtrlC:
			model.cancelled = true
			return model, tea.Quit
		}
	}

	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

// View implements tea.Model. The final render before quit is empty so
// the dialog leaves no trace on the terminal.
func (model promptModel) View() string {
	if model.submitted || model.cancelled {
		return ""
	}

	promptStyle := lipgloss.NewStyle().Bold(true)
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 2)

	content := promptStyle.Render(model.prompt) + "\n" +
		model.input.View() + "\n" +
		helpStyle.Render("enter submits, esc cancels")
	return frame.Render(content) + "\n"
}

// passphrase returns the typed value after the program quits.
func (model promptModel) passphrase() string {
	return model.input.Value()
}
