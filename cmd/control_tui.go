// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/flowbench/pkg/maestro"
	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/Thermoquad/flowbench/pkg/rig"
	"github.com/Thermoquad/flowbench/pkg/sequence"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	commandTimeout = 5 * time.Second
	progressWidth  = 30
)

// Focus states
const (
	focusChannels = iota
	focusWriteInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// benchController is the part of the session the TUI drives
type benchController interface {
	StartSequence(ctx context.Context) error
	StopSequence(ctx context.Context) error
	SetServo(ctx context.Context, microseconds int) error
	NudgeServo(ctx context.Context, delta int) error
	WriteRegister(ctx context.Context, address int, value uint16) error
	ResetStats(ctx context.Context) error
}

// eventLogEntry is one line of the event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	bench    benchController
	regs     *registers.Table
	connInfo string

	// Live channels
	channels     table.Model
	channelAddrs []int
	readings     map[int]registers.Reading

	// Session state
	status    rig.Status
	hasStatus bool

	// Register write
	writeInput   textinput.Model
	focusedField int

	// Event log
	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
	fatalErr error
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlStateMsg struct {
	status   rig.Status
	readings []registers.Reading
}

type noticeMsg rig.Notice

type commandResultMsg struct {
	action string
	err    error
}

type sessionErrorMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(bench benchController, regs *registers.Table, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = fmt.Sprintf("%d=1", registers.AddrMotorEnable)
	ti.CharLimit = 32
	ti.Width = 24

	channelDescs := regs.Channels()
	addrs := make([]int, len(channelDescs))
	for i, d := range channelDescs {
		addrs[i] = d.Address
	}

	channels := table.New(
		table.WithColumns([]table.Column{
			{Title: "Channel", Width: 22},
			{Title: "Value", Width: 10},
			{Title: "Units", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(len(addrs)),
	)

	m := controlModel{
		bench:         bench,
		regs:          regs,
		connInfo:      connInfo,
		channels:      channels,
		channelAddrs:  addrs,
		readings:      make(map[int]registers.Reading),
		writeInput:    ti,
		focusedField:  focusChannels,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         100,
		height:        40,
	}
	m.updateChannelRows()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlStateMsg:
		m.applyState(msg)

	case noticeMsg:
		m.addLogEntry(msg.Message, msg.Level >= slog.LevelWarn)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.addLogEntry(msg.action, false)
		}

	case sessionErrorMsg:
		m.fatalErr = msg.err
		m.addLogEntry(fmt.Sprintf("Session ended: %v", msg.err), true)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focusedField == focusWriteInput {
		switch msg.String() {
		case "esc":
			m.setFocus(focusChannels)
			return m, nil
		case "enter":
			return m.submitWrite()
		}
		var cmd tea.Cmd
		m.writeInput, cmd = m.writeInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "tab", "w":
		m.setFocus(focusWriteInput)
		return m, textinput.Blink

	case "s":
		return m, m.runCommand("Sequence started", m.bench.StartSequence)

	case "x":
		return m, m.runCommand("Stop requested", m.bench.StopSequence)

	case "1":
		return m, m.servoPreset(maestro.PulseMin)

	case "2":
		return m, m.servoPreset(maestro.PulseCenter)

	case "3":
		return m, m.servoPreset(maestro.PulseMax)

	case "+", "=":
		return m, m.runCommand("Servo +1us", func(ctx context.Context) error {
			return m.bench.NudgeServo(ctx, 1)
		})

	case "-":
		return m, m.runCommand("Servo -1us", func(ctx context.Context) error {
			return m.bench.NudgeServo(ctx, -1)
		})

	case "r":
		return m, m.runCommand("Statistics reset", m.bench.ResetStats)
	}

	var cmd tea.Cmd
	m.channels, cmd = m.channels.Update(msg)
	return m, cmd
}

func (m *controlModel) setFocus(field int) {
	m.focusedField = field
	if field == focusWriteInput {
		m.channels.Blur()
		m.writeInput.Focus()
		return
	}
	m.writeInput.Blur()
	m.channels.Focus()
}

func (m controlModel) submitWrite() (tea.Model, tea.Cmd) {
	input := m.writeInput.Value()
	if input == "" {
		input = m.writeInput.Placeholder
	}

	addr, value, err := parseWriteInput(m.regs, input)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.writeInput.SetValue("")
	m.setFocus(focusChannels)
	return m, m.runCommand(fmt.Sprintf("Wrote %d to %d", value, addr), func(ctx context.Context) error {
		return m.bench.WriteRegister(ctx, addr, value)
	})
}

func (m controlModel) servoPreset(us int) tea.Cmd {
	return m.runCommand(fmt.Sprintf("Servo %dus", us), func(ctx context.Context) error {
		return m.bench.SetServo(ctx, us)
	})
}

// runCommand calls the session off the UI goroutine and reports the outcome
func (m controlModel) runCommand(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandResultMsg{action: action, err: fn(ctx)}
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("FLOWBENCH CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.hasStatus && !m.status.Connected {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit s=start x=stop 1/2/3=servo +/-=nudge w=write", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (channels) | right panel (control)
	leftWidth := 46
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	channelStyle := boxStyle
	if m.focusedField == focusChannels {
		channelStyle = focusedBoxStyle
	}
	channelPanel := channelStyle.Render(m.channels.View())

	controlStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusWriteInput {
		controlStyle = focusedBoxStyle.Width(rightWidth)
	}
	controlPanel := controlStyle.Render(m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, channelPanel, " ", controlPanel))
	s.WriteString("\n")

	// Status line
	if m.hasStatus && m.status.LastNotice.Message != "" && !m.status.LastNotice.Expired(time.Now()) {
		style := statsValueStyle
		switch {
		case m.status.LastNotice.Level >= slog.LevelError:
			style = errorStyle
		case m.status.LastNotice.Level >= slog.LevelWarn:
			style = warningStyle
		}
		s.WriteString(" " + style.Render(m.status.LastNotice.Message))
	}
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder

	if !m.hasStatus {
		s.WriteString(headerStyle.Render("Waiting for session..."))
		return s.String()
	}
	st := m.status

	// Sequence
	s.WriteString(statsLabelStyle.Render("SEQUENCE"))
	s.WriteString("\n")
	phase := st.Sequence.Phase.String()
	if st.Sequence.Running() {
		phase = warningStyle.Render(phase)
	} else {
		phase = statsValueStyle.Render(phase)
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		statsLabelStyle.Render("Phase:"), phase,
		statsLabelStyle.Render("Runs:"), statsValueStyle.Render(strconv.Itoa(st.RunsComplete))))
	if st.Sequence.Phase == sequence.PhaseRamp {
		s.WriteString(fmt.Sprintf("%s %s %d/%d\n",
			statsLabelStyle.Render("Step:"),
			renderProgress(st.Sequence.StepIndex, st.TotalSteps),
			st.Sequence.StepIndex+1, st.TotalSteps))
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n\n",
		statsLabelStyle.Render("Poll:"), statsValueStyle.Render(st.PollRate.String()),
		statsLabelStyle.Render("Queue:"), statsValueStyle.Render(strconv.Itoa(st.QueueDepth))))

	// Servo
	s.WriteString(statsLabelStyle.Render("Servo: "))
	switch {
	case !st.HasServo:
		s.WriteString(headerStyle.Render("not connected"))
	case st.ServoPulse == 0:
		s.WriteString(headerStyle.Render("no command sent"))
	default:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("%d us", st.ServoPulse)))
	}
	s.WriteString("\n\n")

	// Selected register
	if d, ok := m.selectedChannel(); ok {
		s.WriteString(fmt.Sprintf("%s %d %s\n", statsLabelStyle.Render("Register:"), d.Address, d.Name))
		if r, ok := m.readings[d.Address]; ok && r.Valid {
			s.WriteString(fmt.Sprintf("%s %d (0x%04X)\n", statsLabelStyle.Render("Raw:"), r.Raw, r.Raw))
		} else {
			s.WriteString(fmt.Sprintf("%s --\n", statsLabelStyle.Render("Raw:")))
		}
		if d.Description != "" {
			s.WriteString(headerStyle.Render(d.Description))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	// Register write
	s.WriteString(statsLabelStyle.Render("Write: "))
	if m.focusedField == focusWriteInput {
		s.WriteString(m.writeInput.View())
	} else {
		s.WriteString(headerStyle.Render("[w] ADDRESS=VALUE"))
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	stats := m.status.Stats
	stats.CalculateRates()

	var validPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
	}

	countStyle := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(strconv.FormatUint(n, 10))
		}
		return statsValueStyle.Render("0")
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(strconv.FormatUint(stats.TotalFrames, 10)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("CRC:"), countStyle(stats.CRCErrors),
		statsLabelStyle.Render("Exc:"), countStyle(stats.Exceptions),
		statsLabelStyle.Render("Timeouts:"), countStyle(stats.Timeouts),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

// renderProgress draws a fixed width bar for step of total
func renderProgress(step, total int) string {
	if total <= 0 {
		return ""
	}
	filled := (step + 1) * progressWidth / total
	if filled > progressWidth {
		filled = progressWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", progressWidth-filled) + "]"
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) applyState(msg controlStateMsg) {
	if m.hasStatus && m.status.Sequence.Phase != msg.status.Sequence.Phase {
		m.addLogEntry(fmt.Sprintf("Sequence: %s -> %s", m.status.Sequence.Phase, msg.status.Sequence.Phase), false)
	}
	m.status = msg.status
	m.hasStatus = true

	for _, r := range msg.readings {
		m.readings[r.Descriptor.Address] = r
	}
	m.updateChannelRows()
}

func (m *controlModel) updateChannelRows() {
	rows := make([]table.Row, 0, len(m.channelAddrs))
	for _, addr := range m.channelAddrs {
		d, _ := m.regs.Lookup(addr)
		value := "--"
		if r, ok := m.readings[addr]; ok && r.Valid {
			value = strconv.FormatFloat(d.Scale(r.Raw), 'f', -1, 64)
		}
		rows = append(rows, table.Row{d.Name, value, d.Units})
	}
	m.channels.SetRows(rows)
}

func (m controlModel) selectedChannel() (registers.Descriptor, bool) {
	idx := m.channels.Cursor()
	if idx < 0 || idx >= len(m.channelAddrs) {
		return registers.Descriptor{}, false
	}
	return m.regs.Lookup(m.channelAddrs[idx])
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// parseWriteInput parses "ADDRESS=VALUE" or "ADDRESS VALUE". ADDRESS may be a
// register name, so without "=" the value follows the last space.
func parseWriteInput(regs *registers.Table, input string) (int, uint16, error) {
	input = strings.TrimSpace(input)
	sep := strings.Index(input, "=")
	if sep < 0 {
		sep = strings.LastIndex(input, " ")
	}
	if sep < 0 {
		return 0, 0, fmt.Errorf("expected ADDRESS=VALUE, got %q", input)
	}

	name := strings.TrimSpace(input[:sep])
	raw := strings.TrimSpace(input[sep+1:])
	if name == "" || raw == "" {
		return 0, 0, fmt.Errorf("expected ADDRESS=VALUE, got %q", input)
	}

	addr, err := resolveRegister(regs, name)
	if err != nil {
		return 0, 0, err
	}
	value, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q", raw)
	}
	return addr, uint16(value), nil
}
