// Package main implements the operator console: a terminal popup that rings
// when a call-arrival event reaches this client through the call server's
// event channel or the softphone device.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	serverdomain "github.com/dublintech/callbridge/internal/callserver/domain"
	"github.com/dublintech/callbridge/internal/operator/device"
	"github.com/dublintech/callbridge/internal/operator/notify"
	"github.com/dublintech/callbridge/internal/operator/transport"
	"github.com/dublintech/callbridge/internal/platform/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// The console is a TUI; keep slog away from stdout.
	appLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := transport.NewClient(appLogger, transport.Options{Group: cfg.OperatorGroup})
	client.Start(cfg.ServerBaseURL)
	defer client.Stop()

	lookup := transport.NewCustomerClient(cfg.ServerBaseURL, appLogger)
	machine := notify.NewMachine(lookup, notify.DefaultFallback(), appLogger)
	machine.Start(ctx)

	// Server-pushed events feed the machine's single queue.
	go func() {
		for ev := range client.Events() {
			machine.Deliver(ev)
		}
	}()

	// The softphone path is optional: without a concrete SDK factory the
	// init fails and only disables device-originated rings.
	softphone := device.NewSource(nil, appLogger)
	if err := softphone.Init(ctx, cfg.OperatorIdentity, cfg.ServerBaseURL); err != nil {
		appLogger.Debug("Softphone disabled", "error", err)
	} else {
		defer softphone.Disconnect()
		go func() {
			for in := range softphone.Incoming() {
				machine.Deliver(serverdomain.CallArrivalEvent{
					FromNumber:   in.From,
					CallSid:      in.CallSid,
					TimestampUTC: time.Now().UTC(),
				})
			}
		}()
	}

	p := tea.NewProgram(newModel(machine), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running console: %v\n", err)
		os.Exit(1)
	}
}

// stateMsg carries the next notification state from the machine.
type stateMsg notify.State

func waitForState(m *notify.Machine) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-m.Updates())
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 3)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// model is the Bubble Tea model for the console.
type model struct {
	machine *notify.Machine
	state   notify.State
}

func newModel(machine *notify.Machine) model {
	return model{machine: machine}
}

func (m model) Init() tea.Cmd {
	return waitForState(m.machine)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = notify.State(msg)
		return m, waitForState(m.machine)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.machine.Answer()
		case "d":
			m.machine.Decline()
		case "esc":
			m.machine.Close()
		case "t":
			// Synthesize a local ring for demo mode.
			m.machine.Deliver(serverdomain.CallArrivalEvent{
				FromNumber:   "+353851234567",
				CallSid:      "test-" + uuid.NewString(),
				TimestampUTC: time.Now().UTC(),
			})
		}
	}
	return m, nil
}

func (m model) View() string {
	header := titleStyle.Render("Callbridge operator console")
	hints := hintStyle.Render("t test ring · a answer · d decline · esc close · q quit")

	if !m.state.Visible {
		body := popupStyle.Render(labelStyle.Render("Waiting for incoming calls..."))
		return fmt.Sprintf("%s\n\n%s\n\n%s\n", header, body, hints)
	}

	lines := fmt.Sprintf("%s %s\n%s %s\n",
		labelStyle.Render("Incoming call from"), valueStyle.Render(m.state.FromNumber),
		labelStyle.Render("Call SID"), valueStyle.Render(m.state.CallSid))

	switch {
	case m.state.Resolving:
		lines += labelStyle.Render("Looking up caller...")
	case m.state.Customer != nil:
		c := m.state.Customer
		lines += fmt.Sprintf("%s %s\n", labelStyle.Render("Customer"), valueStyle.Render(c.Name))
		if c.Email != "" {
			lines += fmt.Sprintf("%s %s\n", labelStyle.Render("Email"), c.Email)
		}
		if c.AccountID != "" {
			lines += fmt.Sprintf("%s %s\n", labelStyle.Render("Account"), c.AccountID)
		}
		if c.Notes != "" {
			lines += fmt.Sprintf("%s %s\n", labelStyle.Render("Notes"), c.Notes)
		}
	default:
		lines += labelStyle.Render("No customer info available")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n", header, popupStyle.Render(lines), hints)
}
