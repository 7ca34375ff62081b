package login

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sortify/internal/theme"
)

// Mode selects which credential flow the form collects input for.
type Mode string

const (
	ModeLogin     Mode = "login"
	ModeRegister  Mode = "register"
	ModeForgot    Mode = "forgot"
	ModeReset     Mode = "reset"
	ModeGoogle    Mode = "google"
	ModeMicrosoft Mode = "microsoft"
)

const minPasswordLen = 6

// SubmitMsg is dispatched when the user completes a flow.
type SubmitMsg struct {
	Mode     Mode
	Name     string
	Email    string
	Password string
	Token    string
}

// CancelMsg is dispatched when the user backs out of a browser sign-in
// that is still waiting for its callback.
type CancelMsg struct {
	Mode Mode
}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	mode     Mode
	name     string
	email    string
	password string
	confirm  string
	token    string
}

type stage int

const (
	stageChoose stage = iota
	stageDetails
	stageBusy
)

// Model is the Bubble Tea model for the signed-out screen.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	stage  stage
	notice string
	isErr  bool
	width  int
	height int
}

// New creates a login model positioned on the flow chooser.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{mode: ModeLogin},
		width:  width,
		height: height,
	}
}

// Start (re)builds the flow chooser.
func (m *Model) Start() tea.Cmd {
	m.stage = stageChoose
	m.fb.password = ""
	m.fb.confirm = ""
	m.fb.token = ""
	m.form = m.buildChooser()
	return m.form.Init()
}

// SetNotice shows a message above the form. isErr selects error styling.
func (m *Model) SetNotice(msg string, isErr bool) {
	m.notice = msg
	m.isErr = isErr
}

// Finish ends a pending submission and returns to the chooser. A
// successful registration preselects login so the user can sign in.
func (m *Model) Finish(mode Mode, ok bool) tea.Cmd {
	if ok && mode == ModeRegister {
		m.fb.mode = ModeLogin
	}
	if ok && mode == ModeForgot {
		m.fb.mode = ModeReset
	}
	return m.Start()
}

// Busy reports whether a submission is in flight.
func (m Model) Busy() bool {
	return m.stage == stageBusy
}

// Update handles messages for the login form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.stage == stageBusy {
		return m, m.cancel(msg)
	}
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		if m.stage == stageChoose {
			if m.fb.mode == ModeGoogle || m.fb.mode == ModeMicrosoft {
				return m, m.submit()
			}
			m.stage = stageDetails
			m.form = m.buildDetails()
			return m, m.form.Init()
		}
		return m, m.submit()

	case huh.StateAborted:
		if m.stage == stageDetails {
			return m, m.Start()
		}
	}

	return m, cmd
}

// cancel maps esc during a pending browser sign-in to a CancelMsg.
// Credential submissions cannot be withdrawn once sent.
func (m Model) cancel(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok || key.String() != "esc" {
		return nil
	}
	mode := m.fb.mode
	if mode != ModeGoogle && mode != ModeMicrosoft {
		return nil
	}
	return func() tea.Msg { return CancelMsg{Mode: mode} }
}

func (m *Model) submit() tea.Cmd {
	m.stage = stageBusy
	m.notice = ""
	out := SubmitMsg{
		Mode:     m.fb.mode,
		Name:     strings.TrimSpace(m.fb.name),
		Email:    strings.TrimSpace(m.fb.email),
		Password: m.fb.password,
		Token:    strings.TrimSpace(m.fb.token),
	}
	return func() tea.Msg { return out }
}

// View renders the login screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render("Sortify"))
	b.WriteString("\n")

	if m.notice != "" {
		style := theme.SuccessStyle
		if m.isErr {
			style = theme.ErrorStyle
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n\n")
	}

	switch {
	case m.stage == stageBusy && (m.fb.mode == ModeGoogle || m.fb.mode == ModeMicrosoft):
		b.WriteString(theme.HelpStyle.Render("Waiting for the browser... (esc to cancel)"))
	case m.stage == stageBusy:
		b.WriteString(theme.HelpStyle.Render("Working..."))
	case m.form != nil:
		b.WriteString(m.form.View())
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(b.String())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m *Model) buildChooser() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[Mode]().
				Title("Welcome").
				Options(
					huh.NewOption("Sign in", ModeLogin),
					huh.NewOption("Create an account", ModeRegister),
					huh.NewOption("Continue with Google", ModeGoogle),
					huh.NewOption("Continue with Microsoft", ModeMicrosoft),
					huh.NewOption("Forgot password", ModeForgot),
					huh.NewOption("I have a reset token", ModeReset),
				).
				Value(&m.fb.mode),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m *Model) buildDetails() *huh.Form {
	var fields []huh.Field

	switch m.fb.mode {
	case ModeRegister:
		fields = append(fields,
			huh.NewInput().Title("Name").Value(&m.fb.name).Validate(validateRequired("Name")),
			m.emailField(),
			m.passwordField("Password", &m.fb.password, validatePassword),
			m.passwordField("Confirm password", &m.fb.confirm, m.validateConfirm),
		)
	case ModeForgot:
		fields = append(fields, m.emailField())
	case ModeReset:
		fields = append(fields,
			huh.NewInput().Title("Reset token").Value(&m.fb.token).Validate(validateRequired("Reset token")),
			m.passwordField("New password", &m.fb.password, validatePassword),
			m.passwordField("Confirm password", &m.fb.confirm, m.validateConfirm),
		)
	default:
		fields = append(fields,
			m.emailField(),
			m.passwordField("Password", &m.fb.password, validateRequired("Password")),
		)
	}

	return huh.NewForm(huh.NewGroup(fields...)).WithWidth(m.formWidth())
}

func (m *Model) emailField() huh.Field {
	return huh.NewInput().
		Title("Email").
		Placeholder("you@example.com").
		Value(&m.fb.email).
		Validate(validateEmail)
}

func (m *Model) passwordField(title string, v *string, validate func(string) error) huh.Field {
	return huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(v).
		Validate(validate)
}

func (m *Model) validateConfirm(s string) error {
	if s != m.fb.password {
		return errors.New("passwords do not match")
	}
	return nil
}

func (m *Model) formWidth() int {
	w := m.width - 4
	if w > 60 {
		w = 60
	}
	if w < 20 {
		w = 20
	}
	return w
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

func validateEmail(s string) error {
	s = strings.TrimSpace(s)
	at := strings.Index(s, "@")
	if at < 1 || at == len(s)-1 {
		return errors.New("enter a valid email address")
	}
	return nil
}

func validatePassword(s string) error {
	if len(s) < minPasswordLen {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}
