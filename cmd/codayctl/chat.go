package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/session"
)

var (
	speakerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func newChatCmd() *cobra.Command {
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation against the selected project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, err := buildEngine(ctx, flagConfigDir, flagProject)
			if err != nil {
				return err
			}
			defer eng.close(ctx)

			if useTUI {
				return runTUI(ctx, eng)
			}
			return runREPL(ctx, eng)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "full-screen terminal UI instead of the line-oriented prompt")
	return cmd
}

// runREPL drives a line-oriented loop: a huh input form per turn, with bus
// events printed as they stream. Invite/Choice events are answered through
// huh forms on the subscriber goroutine, which is safe because the main
// goroutine is blocked inside SubmitMessage for the whole turn.
func runREPL(ctx context.Context, eng *engine) error {
	history, events, sub := eng.bus.Subscribe()
	defer sub.Close()
	for _, e := range history {
		printEvent(e)
	}
	go func() {
		for e := range events {
			if answered := answerPrompt(ctx, eng.sess, e); answered {
				continue
			}
			printEvent(e)
		}
	}()

	fmt.Println(dimStyle.Render("project " + eng.project + " - type a message, @agent to target one, /quit to exit"))
	for {
		var input string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("you").Value(&input),
		))
		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}

		prefix, text := splitAgentPrefix(input)
		if _, err := eng.sess.SubmitMessage(ctx, prefix, text); err != nil && !errors.Is(err, runloop.ErrInterrupted) {
			fmt.Println(errorStyle.Render("turn failed: " + err.Error()))
		}
	}
}

// splitAgentPrefix peels an "@agent rest of message" prefix off input.
func splitAgentPrefix(input string) (prefix, text string) {
	if !strings.HasPrefix(input, "@") {
		return "", input
	}
	rest := input[1:]
	i := strings.IndexAny(rest, " \t")
	if i < 0 {
		return rest, ""
	}
	return rest[:i], strings.TrimSpace(rest[i:])
}

// answerPrompt resolves Invite/Choice events interactively, returning true
// when e was one of them.
func answerPrompt(ctx context.Context, sess *session.Session, e event.Event) bool {
	switch evt := e.(type) {
	case *event.InviteEvent:
		answer := evt.DefaultValue
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title(evt.Invite).Value(&answer),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return true
		}
		_ = sess.SubmitAnswer(ctx, evt.ID(), answer)
		return true
	case *event.ChoiceEvent:
		title := evt.Invite
		if evt.OptionalQuestion != "" {
			title += "\n" + evt.OptionalQuestion
		}
		var choice string
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title(title).Options(huh.NewOptions(evt.Options...)...).Value(&choice),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return true
		}
		_ = sess.SubmitAnswer(ctx, evt.ID(), choice)
		return true
	}
	return false
}

// printEvent renders one event for the line-oriented mode. Text deltas are
// written inline; the final Message event terminates the line.
func printEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.TextEvent:
		fmt.Print(evt.Text)
	case *event.MessageEvent:
		switch evt.Role {
		case event.RoleUser:
			// The user just typed it.
		case event.RoleAssistant:
			// Content already streamed as Text deltas; close the line.
			fmt.Println()
			fmt.Println(dimStyle.Render("- " + evt.SpeakerName))
		default:
			fmt.Println(speakerStyle.Render(evt.SpeakerName+":") + " " + flattenContent(evt.Content))
		}
	case *event.ThinkingEvent:
		fmt.Println(dimStyle.Render("..."))
	case *event.ToolRequestEvent:
		fmt.Println(toolStyle.Render(fmt.Sprintf("[tool %s %s]", evt.ToolName, evt.ArgsJSON)))
	case *event.ToolResponseEvent:
		fmt.Println(toolStyle.Render(fmt.Sprintf("[tool done: %s]", truncate(evt.Output, 200))))
	case *event.WarnEvent:
		fmt.Println(warnStyle.Render("warning: " + evt.Message))
	case *event.ErrorEvent:
		fmt.Println(errorStyle.Render("error: " + evt.Message))
	case *event.ThreadSelectedEvent:
		fmt.Println(dimStyle.Render("thread: " + evt.ThreadID))
	case *event.ProjectSelectedEvent:
		fmt.Println(dimStyle.Render("project: " + evt.ProjectName))
	case *event.FileEvent:
		fmt.Println(toolStyle.Render(fmt.Sprintf("[file %s %s]", evt.Operation, evt.Filename)))
	}
}

func flattenContent(parts []event.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		} else {
			b.WriteString("[image]")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
