// Package tui is the terminal front end: a login form, the two-factor
// code prompt, and the signed-in account page, switched by the auth
// facade's view updates.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Ilkenza/siteorg-auth/internal/auth"
)

// ViewChangedMsg delivers a facade view update into the tea loop
type ViewChangedMsg struct {
	View auth.View
}

// AppModel is the main application model that manages page switching
type AppModel struct {
	facade  *auth.Facade
	views   chan auth.View
	login   LoginModel
	code    CodeModel
	page    string // "loading", "login", "code" or "account"
	user    string
	accKeys *AccountKeyMap
}

// AccountKeyMap holds key bindings for the signed-in page
type AccountKeyMap struct {
	signOut key.Binding
	quit    key.Binding
}

func newAccountKeyMap() *AccountKeyMap {
	return &AccountKeyMap{
		signOut: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "Sign out"),
		),
		quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("ctrl+c/q", "Quit"),
		),
	}
}

// NewAppModel creates the app model and hooks it to the facade's view
// stream. The returned unwatch func must run when the program exits.
func NewAppModel(facade *auth.Facade) (AppModel, func()) {
	views := make(chan auth.View, 8)
	unwatch := facade.Watch(func(v auth.View) {
		select {
		case views <- v:
		default:
		}
	})

	return AppModel{
		facade:  facade,
		views:   views,
		login:   NewLoginModel(facade),
		code:    NewCodeModel(facade),
		page:    "loading",
		accKeys: newAccountKeyMap(),
	}, unwatch
}

// Init initializes the AppModel
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		m.login.Init(),
		waitForView(m.views),
	)
}

// Update handles app-level messages and delegates to the active page
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ViewChangedMsg:
		m = m.applyView(msg.View)
		return m, waitForView(m.views)

	case CancelMfaMsg:
		m.facade.SignOut()
		m.page = "login"
		return m, nil

	case tea.KeyMsg:
		if m.page == "account" {
			switch {
			case key.Matches(msg, m.accKeys.quit):
				return m, tea.Quit
			case key.Matches(msg, m.accKeys.signOut):
				m.facade.SignOut()
				m.page = "login"
				return m, nil
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	var page tea.Model
	switch m.page {
	case "login":
		page, cmd = m.login.Update(msg)
		m.login = page.(LoginModel)
	case "code":
		page, cmd = m.code.Update(msg)
		m.code = page.(CodeModel)
	}
	return m, cmd
}

// View renders the active page
func (m AppModel) View() string {
	switch m.page {
	case "login":
		return m.login.View()
	case "code":
		return m.code.View()
	case "account":
		var b strings.Builder
		b.WriteString(titleStyle.Render("Signed in"))
		b.WriteString("\n\n")
		b.WriteString(successMessageStyle(fmt.Sprintf("Welcome, %s", m.user)))
		b.WriteString("\n\n")
		b.WriteString(hintStyle("s: sign out, q: quit"))
		return docStyle.Render(b.String())
	default:
		return docStyle.Render(hintStyle("Restoring your session..."))
	}
}

// IsSignedIn reports whether the final model landed on the account page
func (m AppModel) IsSignedIn() bool {
	return m.page == "account"
}

func (m AppModel) applyView(v auth.View) AppModel {
	switch {
	case v.Loading:
		m.page = "loading"
	case v.NeedsMFA:
		if m.page != "code" {
			m.code = NewCodeModel(m.facade)
		}
		m.page = "code"
	case v.User != nil:
		m.user = v.User.Name
		if m.user == "" {
			m.user = v.User.Email
		}
		m.page = "account"
	default:
		m.page = "login"
	}
	return m
}

func waitForView(views chan auth.View) tea.Cmd {
	return func() tea.Msg {
		return ViewChangedMsg{View: <-views}
	}
}
