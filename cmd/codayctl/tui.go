package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/runloop"
)

// evtMsg delivers one bus event into the Bubble Tea update loop.
type evtMsg struct{ evt event.Event }

// turnDoneMsg signals that a submitted turn finished.
type turnDoneMsg struct{ err error }

type tuiModel struct {
	ctx context.Context
	eng *engine

	vp    viewport.Model
	input textinput.Model
	spin  spinner.Model
	ready bool

	lines     []string
	streaming strings.Builder
	running   bool

	pendingInvite string // invite/choice event id awaiting the next submit
	pendingOpts   []string
	quitting      bool
}

// runTUI runs the full-screen chat interface until the user quits.
func runTUI(ctx context.Context, eng *engine) error {
	input := textinput.New()
	input.Placeholder = "message (@agent to target one)"
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	m := &tuiModel{ctx: ctx, eng: eng, input: input, spin: spin}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	history, events, sub := eng.bus.Subscribe()
	defer sub.Close()
	for _, e := range history {
		m.appendEvent(e)
	}
	go func() {
		for e := range events {
			p.Send(evtMsg{evt: e})
		}
	}()

	_, err := p.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-3)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 3
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}

	case evtMsg:
		m.appendEvent(msg.evt)
		m.refresh()
		return m, nil

	case turnDoneMsg:
		m.running = false
		if msg.err != nil && !errors.Is(msg.err, runloop.ErrInterrupted) {
			m.lines = append(m.lines, errorStyle.Render("turn failed: "+msg.err.Error()))
			m.refresh()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.running {
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit consumes the input line: an answer when a prompt is pending, a new
// user turn otherwise.
func (m *tuiModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if m.pendingInvite != "" {
		inviteID := m.pendingInvite
		answer := text
		if len(m.pendingOpts) > 0 {
			if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(m.pendingOpts) {
				answer = m.pendingOpts[n-1]
			}
		}
		m.pendingInvite = ""
		m.pendingOpts = nil
		return func() tea.Msg {
			_ = m.eng.sess.SubmitAnswer(m.ctx, inviteID, answer)
			return nil
		}
	}

	prefix, body := splitAgentPrefix(text)
	m.running = true
	return tea.Batch(m.spin.Tick, func() tea.Msg {
		_, err := m.eng.sess.SubmitMessage(m.ctx, prefix, body)
		return turnDoneMsg{err: err}
	})
}

// appendEvent folds one bus event into the transcript.
func (m *tuiModel) appendEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.TextEvent:
		m.streaming.WriteString(evt.Text)
	case *event.MessageEvent:
		m.streaming.Reset()
		style := speakerStyle
		if evt.Role == event.RoleUser {
			style = dimStyle
		}
		m.lines = append(m.lines, style.Render(evt.SpeakerName+":")+" "+flattenContent(evt.Content))
	case *event.ToolRequestEvent:
		m.lines = append(m.lines, toolStyle.Render(fmt.Sprintf("[tool %s]", evt.ToolName)))
	case *event.ToolResponseEvent:
		m.lines = append(m.lines, toolStyle.Render("[tool done: "+truncate(evt.Output, 120)+"]"))
	case *event.InviteEvent:
		m.pendingInvite = evt.ID()
		m.pendingOpts = nil
		m.lines = append(m.lines, warnStyle.Render("? "+evt.Invite))
		if evt.DefaultValue != "" {
			m.input.SetValue(evt.DefaultValue)
		}
	case *event.ChoiceEvent:
		m.pendingInvite = evt.ID()
		m.pendingOpts = evt.Options
		m.lines = append(m.lines, warnStyle.Render("? "+evt.Invite))
		for i, opt := range evt.Options {
			m.lines = append(m.lines, warnStyle.Render(fmt.Sprintf("  %d. %s", i+1, opt)))
		}
	case *event.WarnEvent:
		m.lines = append(m.lines, warnStyle.Render("warning: "+evt.Message))
	case *event.ErrorEvent:
		m.lines = append(m.lines, errorStyle.Render("error: "+evt.Message))
	case *event.ThreadSelectedEvent:
		m.lines = append(m.lines, dimStyle.Render("thread: "+evt.ThreadID))
	case *event.FileEvent:
		m.lines = append(m.lines, toolStyle.Render(fmt.Sprintf("[file %s %s]", evt.Operation, evt.Filename)))
	}
}

func (m *tuiModel) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.streaming.Len() > 0 {
		content += "\n" + m.streaming.String()
	}
	m.vp.SetContent(content)
	m.vp.GotoBottom()
}

func (m *tuiModel) View() string {
	if m.quitting || !m.ready {
		return ""
	}
	status := ""
	if m.running {
		status = m.spin.View() + " thinking"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.vp.View(),
		dimStyle.Render(status),
		m.input.View(),
	)
}
