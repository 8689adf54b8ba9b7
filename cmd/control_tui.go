// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tempsense/pkg/controlloop"
	"github.com/Thermoquad/tempsense/pkg/telemetry"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	eventLogLines = 8
	leftWidth     = 30
)

// Focus states
const (
	focusDeviceList = iota
	focusTargetInput
	focusCommandInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem is one board in the device list
type deviceItem struct {
	controlloop.DeviceView
}

// Implement list.Item interface
func (d deviceItem) Title() string       { return fmt.Sprintf("%s [%s]", d.Label, d.State) }
func (d deviceItem) Description() string { return telemetry.FormatSkinTemperature(d.Telemetry) }
func (d deviceItem) FilterValue() string { return d.Label }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	loop     *controlloop.Loop
	interval time.Duration
	snap     *controlloop.Snapshot

	deviceList   list.Model
	targetInput  textinput.Model
	commandInput textinput.Model
	focusedField int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(loop *controlloop.Loop, interval time.Duration) controlModel {
	if interval <= 0 {
		interval = controlloop.DefaultInterval
	}

	target := textinput.New()
	target.Placeholder = "20"
	target.CharLimit = 4
	target.Width = 6

	command := textinput.New()
	command.Placeholder = "PING"
	command.CharLimit = 64
	command.Width = 30

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, leftWidth, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	m := controlModel{
		loop:         loop,
		interval:     interval,
		snap:         loop.Snapshot(),
		deviceList:   deviceList,
		targetInput:  target,
		commandInput: command,
		focusedField: focusDeviceList,
		width:        80,
		height:       24,
	}
	m.updateDeviceList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd(m.interval)
}

func controlTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.loop.Tick()
		m.snap = m.loop.Snapshot()
		m.updateDeviceList()
		return m, controlTickCmd(m.interval)
	}

	var cmd tea.Cmd
	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
	}
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "esc":
		m.setFocus(focusDeviceList)
		return m, nil
	}

	switch m.focusedField {
	case focusTargetInput:
		if msg.String() == "enter" {
			m.submitTarget()
			return m, nil
		}
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd

	case focusCommandInput:
		if msg.String() == "enter" {
			m.submitCommand()
			return m, nil
		}
		var cmd tea.Cmd
		m.commandInput, cmd = m.commandInput.Update(msg)
		return m, cmd
	}

	id, ok := m.selectedID()

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "s":
		m.submit(controlloop.SetActive{Active: true})
		return m, nil
	case "x":
		m.submit(controlloop.SetActive{Active: false})
		return m, nil
	case "c":
		if ok {
			m.submit(controlloop.Connect{Device: id})
		}
		return m, nil
	case "d":
		if ok {
			m.submit(controlloop.Disconnect{Device: id})
		}
		return m, nil
	case "p":
		if ok {
			m.submit(controlloop.Ping{Device: id})
		}
		return m, nil
	case "o":
		if d, found := m.snap.Device(id); ok && found {
			m.submit(controlloop.SetOverride{Device: id, Enabled: !d.Setpoint.ManualOverride})
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m *controlModel) cycleFocus(delta int) {
	m.setFocus((m.focusedField + delta + focusCount) % focusCount)
}

func (m *controlModel) setFocus(field int) {
	m.focusedField = field
	m.targetInput.Blur()
	m.commandInput.Blur()

	switch field {
	case focusTargetInput:
		m.targetInput.Focus()
	case focusCommandInput:
		m.commandInput.Focus()
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
	active := headerStyle.Render("stopped")
	if m.snap.Active {
		active = statsValueStyle.Render("running")
	}
	s.WriteString(titleStyle.Render("TEMPSENSE CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %d device(s) | ", len(m.snap.Devices))))
	s.WriteString(active)
	s.WriteString(headerStyle.Render(" | q=quit Tab=switch c/d/p=connect/disconnect/ping o=override s/x=start/stop"))
	s.WriteString("\n\n")

	// Layout: left panel (devices) | right panel (control)
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	controlContent := m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, errorStyle, warningStyle)
	controlPanel := boxStyle.Width(rightWidth).Render(controlContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(labelStyle, valueStyle, headerStyle, errorStyle, warningStyle lipgloss.Style) string {
	id, ok := m.selectedID()
	d, found := m.snap.Device(id)
	if !ok || !found {
		return headerStyle.Render("No device selected")
	}

	var s strings.Builder

	status := valueStyle.Render(d.StatusText)
	if !d.Connected {
		status = warningStyle.Render(d.StatusText)
	}
	if strings.Contains(d.StatusText, "Error:") {
		status = errorStyle.Render(d.StatusText)
	}

	s.WriteString(fmt.Sprintf("%s %s (%s)\n", labelStyle.Render("Device:"), d.Label, headerStyle.Render(fmt.Sprintf("%s @ %d", d.Port, d.Baud))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Status:"), status))
	s.WriteString(fmt.Sprintf("%s %s\n\n", labelStyle.Render("Telemetry:"), valueStyle.Render(telemetry.FormatTelemetry(d.Telemetry))))

	override := headerStyle.Render("off")
	if d.Setpoint.ManualOverride {
		override = warningStyle.Render("ON")
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n",
		labelStyle.Render("Target:"), valueStyle.Render(fmt.Sprintf("%d°C", d.Setpoint.Target)),
		labelStyle.Render("Last sent:"), valueStyle.Render(fmt.Sprintf("%d°C", d.Setpoint.PreviousSent)),
		labelStyle.Render("Override:"), override,
	))

	s.WriteString(labelStyle.Render("Set target: "))
	s.WriteString(m.renderInput(m.targetInput, focusTargetInput))
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Command:    "))
	s.WriteString(m.renderInput(m.commandInput, focusCommandInput))

	return s.String()
}

func (m controlModel) renderInput(in textinput.Model, field int) string {
	if m.focusedField == field {
		return in.View()
	}
	val := in.Value()
	if val == "" {
		val = in.Placeholder
	}
	return fmt.Sprintf("[%s]", val)
}

func (m controlModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var lines, failures, anomalies uint64
	connected := 0
	for _, d := range m.snap.Devices {
		lines += d.Lines
		failures += d.Failures
		anomalies += d.Anomalies
		if d.Connected {
			connected++
		}
	}

	count := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(fmt.Sprintf("%d", n))
		}
		return valueStyle.Render("0")
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Connected:"), valueStyle.Render(fmt.Sprintf("%d/%d", connected, len(m.snap.Devices))),
		labelStyle.Render("Lines:"), valueStyle.Render(fmt.Sprintf("%d", lines)),
		labelStyle.Render("Parse failures:"), count(failures),
		labelStyle.Render("Anomalies:"), count(anomalies),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	entries := m.snap.Log
	if len(entries) > eventLogLines {
		entries = entries[len(entries)-eventLogLines:]
	}

	if len(entries) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries {
		icon, style := "i", headerStyle
		switch {
		case entry.IsError:
			icon, style = "x", errorStyle
		case entry.IsWarning:
			icon, style = "!", warningStyle
		}
		s.WriteString(fmt.Sprintf("%s %s [%s] %s\n",
			headerStyle.Render(entry.Timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.Source,
			entry.Message))
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) submit(a controlloop.Action) {
	// Only fails once the loop is shut down, which happens after quit
	_ = m.loop.Submit(a)
}

func (m *controlModel) submitTarget() {
	id, ok := m.selectedID()
	if !ok {
		return
	}
	m.submit(controlloop.ManualSetText{Device: id, Text: m.targetInput.Value()})
	m.targetInput.SetValue("")
}

func (m *controlModel) submitCommand() {
	id, ok := m.selectedID()
	text := strings.TrimSpace(m.commandInput.Value())
	if !ok || text == "" {
		return
	}
	m.submit(controlloop.Send{Device: id, Text: text})
	m.commandInput.SetValue("")
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) selectedID() (int, bool) {
	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.snap.Devices) {
		return 0, false
	}
	return idx, true
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.snap.Devices))
	for i, d := range m.snap.Devices {
		items[i] = deviceItem{d}
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(leftWidth-2, listHeight)
}
