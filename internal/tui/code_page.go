package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Ilkenza/siteorg-auth/internal/auth"
	"github.com/Ilkenza/siteorg-auth/internal/mfa"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
)

// CodeKeyMap holds key bindings for the verification code page
type CodeKeyMap struct {
	submit key.Binding
	cancel key.Binding
	quit   key.Binding
}

func newCodeKeyMap() *CodeKeyMap {
	return &CodeKeyMap{
		submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Verify"),
		),
		cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Sign out"),
		),
		quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "Quit"),
		),
	}
}

// VerifyResultMsg carries the outcome of one verification attempt
type VerifyResultMsg struct {
	Err error
}

// CancelMfaMsg is sent when the user abandons the step-up
type CancelMfaMsg struct{}

// CodeModel prompts for the 6-digit authenticator code
type CodeModel struct {
	keys    *CodeKeyMap
	facade  *auth.Facade
	code    textinput.Model
	busy    bool
	errText string
}

// NewCodeModel creates the code prompt
func NewCodeModel(facade *auth.Facade) CodeModel {
	code := textinput.New()
	code.Placeholder = "000000"
	code.CharLimit = 6
	code.Width = 10
	code.Validate = func(s string) error {
		for _, r := range s {
			if r < '0' || r > '9' {
				return fmt.Errorf("digits only")
			}
		}
		return nil
	}
	code.Focus()

	return CodeModel{
		keys:   newCodeKeyMap(),
		facade: facade,
		code:   code,
	}
}

// Init initializes the model
func (m CodeModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the code page
func (m CodeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case VerifyResultMsg:
		m.busy = false
		if msg.Err != nil {
			m.errText = verifyErrorText(msg.Err)
			m.code.Reset()
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.cancel):
			return m, func() tea.Msg { return CancelMfaMsg{} }

		case key.Matches(msg, m.keys.submit):
			if m.busy {
				return m, nil
			}
			code := m.code.Value()
			if len(code) != 6 {
				m.errText = "Enter the 6-digit code from your authenticator app"
				return m, nil
			}
			m.busy = true
			m.errText = ""
			return m, verifyCmd(m.facade, code)
		}
	}

	var cmd tea.Cmd
	m.code, cmd = m.code.Update(msg)
	return m, cmd
}

// View renders the code prompt
func (m CodeModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Two-factor verification"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Authenticator code"))
	b.WriteString("\n")
	b.WriteString(m.code.View())
	b.WriteString("\n\n")

	switch {
	case m.busy:
		b.WriteString(hintStyle("Verifying... this can take a moment on a slow connection"))
	case m.errText != "":
		b.WriteString(errorMessageStyle(m.errText))
	default:
		b.WriteString(hintStyle("enter: verify, esc: sign out, ctrl+c: quit"))
	}

	return docStyle.Render(b.String())
}

func verifyCmd(facade *auth.Facade, code string) tea.Cmd {
	return func() tea.Msg {
		return VerifyResultMsg{Err: facade.SubmitCode(context.Background(), code)}
	}
}

func verifyErrorText(err error) string {
	switch {
	case errors.Is(err, provider.ErrInvalidCode):
		return "That code was not accepted, try the current one"
	case errors.Is(err, mfa.ErrAttemptsExhausted):
		return "Too many wrong codes, you have been signed out"
	case errors.Is(err, provider.ErrNoFactorFound):
		return "No authenticator is enrolled for this account"
	case errors.Is(err, provider.ErrNetworkTimeout):
		return "Verification timed out, try again"
	default:
		return fmt.Sprintf("Verification failed: %v", err)
	}
}
