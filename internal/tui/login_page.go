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
	"github.com/Ilkenza/siteorg-auth/internal/provider"
)

// LoginKeyMap holds key bindings for the login page actions
type LoginKeyMap struct {
	submit key.Binding
	next   key.Binding
	quit   key.Binding
}

func newLoginKeyMap() *LoginKeyMap {
	return &LoginKeyMap{
		submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Sign in"),
		),
		next: key.NewBinding(
			key.WithKeys("tab", "down"),
			key.WithHelp("tab", "Next field"),
		),
		quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("ctrl+c", "Quit"),
		),
	}
}

// SignInResultMsg carries the outcome of an attempted credential exchange
type SignInResultMsg struct {
	Err error
}

// LoginModel is the email/password form
type LoginModel struct {
	keys     *LoginKeyMap
	facade   *auth.Facade
	email    textinput.Model
	password textinput.Model
	focused  int
	busy     bool
	errText  string
	width    int
}

// NewLoginModel creates the login form with the email field focused
func NewLoginModel(facade *auth.Facade) LoginModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128

	return LoginModel{
		keys:     newLoginKeyMap(),
		facade:   facade,
		email:    email,
		password: password,
	}
}

// Init initializes the model
func (m LoginModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the login page
func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SignInResultMsg:
		m.busy = false
		if msg.Err != nil {
			m.errText = loginErrorText(msg.Err)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.next):
			m.focused = (m.focused + 1) % 2
			if m.focused == 0 {
				m.password.Blur()
				return m, m.email.Focus()
			}
			m.email.Blur()
			return m, m.password.Focus()

		case key.Matches(msg, m.keys.submit):
			if m.busy {
				return m, nil
			}
			email := strings.TrimSpace(m.email.Value())
			password := m.password.Value()
			if email == "" || password == "" {
				m.errText = "Email and password are required"
				return m, nil
			}
			m.busy = true
			m.errText = ""
			return m, signInCmd(m.facade, email, password)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.email, cmd = m.email.Update(msg)
	cmds = append(cmds, cmd)
	m.password, cmd = m.password.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the login form
func (m LoginModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sign in"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Email"))
	b.WriteString("\n")
	b.WriteString(m.email.View())
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Password"))
	b.WriteString("\n")
	b.WriteString(m.password.View())
	b.WriteString("\n\n")

	switch {
	case m.busy:
		b.WriteString(hintStyle("Signing in..."))
	case m.errText != "":
		b.WriteString(errorMessageStyle(m.errText))
	default:
		b.WriteString(hintStyle("enter: sign in, tab: next field, ctrl+c: quit"))
	}

	return docStyle.Render(b.String())
}

func signInCmd(facade *auth.Facade, email, password string) tea.Cmd {
	return func() tea.Msg {
		return SignInResultMsg{Err: facade.SignIn(context.Background(), email, password)}
	}
}

func loginErrorText(err error) string {
	switch {
	case errors.Is(err, provider.ErrInvalidCredentials):
		return "Wrong email or password"
	case errors.Is(err, provider.ErrNetworkTimeout):
		return "The identity service is not responding, try again"
	default:
		return fmt.Sprintf("Sign-in failed: %v", err)
	}
}
