package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/logger"
	"github.com/adamgarcia4/goLearning/hermes/node"
	"github.com/adamgarcia4/goLearning/hermes/transport"
)

var interactiveFlags node.ManagerConfig

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start interactive node manager",
	Long: `Start an interactive terminal UI running a whole cluster in this process.

Keyboard shortcuts:
  C - Create a new node (the first node is the seed of the others)
  D - Delete a node (shows selection menu)
  G - Run one gossip round on every node (with --manual)
  F - Show the logs of one node at a time, then all again
  X - Clear the logs
  P - Pause or resume log capture
  Enter - Repeat the last command
  Q - Quit

Examples:
  hermes interactive
  hermes interactive --manual --ring-delay=5s`,
	Run: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)

	f := interactiveCmd.Flags()
	f.StringVar(&interactiveFlags.ClusterID, "cluster", node.DefaultClusterID, "Cluster id")
	f.IntVar(&interactiveFlags.BasePort, "base-port", node.DefaultManagerPort, "Port of the first node; later nodes count up")
	f.StringVar(&interactiveFlags.Transport, "transport", transport.KindInmem, "Transport between the nodes: inmem, grpc or udp")
	f.BoolVar(&interactiveFlags.ManualGossip, "manual", false, "Only gossip when G is pressed")
	f.DurationVar(&interactiveFlags.GossipInterval, "interval", gossip.DefaultInterval, "Gossip interval")
	f.DurationVar(&interactiveFlags.RingDelay, "ring-delay", 10*time.Second, "Ring delay; quarantine and fat client timeouts derive from it")
}

const (
	logCount  = 15
	maxScroll = 100
)

type model struct {
	manager      *node.Manager
	nodes        []*node.Node
	manual       bool
	deleteMode   bool
	selected     int
	err          error
	logBuffer    *logger.LogBuffer
	logWriter    *logger.LogBufferWriter
	logScroll    int    // for scrolling logs
	logFilter    string // node whose logs are shown; empty for all
	logsPaused   bool
	width        int
	height       int
	lastCommand  string // replayed by Enter: "create", "gossip" or "delete:<index>"
	numericInput string // multi-digit node number typed in delete mode
}

func initialModel(cfg node.ManagerConfig) model {
	// Interactive mode logs only to the buffer shown on screen
	logBuffer := logger.GetGlobalLogBuffer()
	logger.Init("hermes", false)
	logWriter := logger.NewLogBufferWriter(logBuffer)
	_ = logger.AddOutput(logWriter)

	return model{
		manager:   node.NewManager(cfg),
		manual:    cfg.ManualGossip,
		logBuffer: logBuffer,
		logWriter: logWriter,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), refreshNodes(m.manager))
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func refreshNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		return nodesUpdatedMsg{nodes: manager.GetNodes()}
	}
}

type nodesUpdatedMsg struct {
	nodes []*node.Node
}

type shutdownCompleteMsg struct {
	err error
}

// shutdownNodes stops all nodes and sends a message when complete
func shutdownNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return shutdownCompleteMsg{err: manager.StopAll(ctx)}
	}
}

func (m model) createNode() model {
	if _, err := m.manager.CreateNode(context.Background()); err != nil {
		m.err = err
		return m
	}
	m.err = nil
	m.nodes = m.manager.GetNodes()
	m.lastCommand = "create"
	return m
}

func (m model) deleteNode(index int) model {
	if index < 0 || index >= len(m.nodes) {
		m.err = fmt.Errorf("node %d does not exist (max: %d)", index+1, len(m.nodes))
		return m
	}
	if err := m.manager.DeleteNode(index); err != nil {
		m.err = err
		return m
	}
	m.err = nil
	m.nodes = m.manager.GetNodes()
	m.deleteMode = false
	m.selected = 0
	m.lastCommand = fmt.Sprintf("delete:%d", index)
	return m
}

// gossipRound runs one round on every node, in list order.
func (m model) gossipRound() model {
	if !m.manual {
		m.err = fmt.Errorf("rounds run on their own; start with --manual to step them")
		return m
	}
	for _, n := range m.nodes {
		if err := n.RunRound(context.Background()); err != nil {
			m.err = err
			return m
		}
	}
	m.err = nil
	m.lastCommand = "gossip"
	return m
}

// cycleLogFilter moves the log view to the next node, and back to every
// node after the last one.
func (m model) cycleLogFilter() model {
	next := ""
	if m.logFilter == "" {
		if len(m.nodes) > 0 {
			next = m.nodes[0].Endpoint().String()
		}
	} else {
		for i, n := range m.nodes {
			if n.Endpoint().String() == m.logFilter && i+1 < len(m.nodes) {
				next = m.nodes[i+1].Endpoint().String()
				break
			}
		}
	}
	m.logFilter = next
	m.logScroll = 0
	return m
}

func (m model) toggleLogs() model {
	if err := logger.SetEnabled(m.logsPaused); err != nil {
		m.err = err
		return m
	}
	m.logsPaused = !m.logsPaused
	return m
}

func (m model) recentLogs(count int) []logger.LogEntry {
	if m.logFilter == "" {
		return m.logBuffer.GetRecent(count)
	}
	return m.logBuffer.GetRecentFor(m.logFilter, count)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, shutdownNodes(m.manager)
		}
		if m.deleteMode {
			return m.handleDeleteMode(msg)
		}

		switch msg.String() {
		case "c", "C":
			return m.createNode(), nil

		case "g", "G":
			return m.gossipRound(), nil

		case "d", "D":
			if len(m.nodes) == 0 {
				m.err = fmt.Errorf("no nodes to delete")
				return m, nil
			}
			m.deleteMode = true
			m.selected = 0
			m.numericInput = ""
			return m, nil

		case "enter":
			return m.repeat(), nil

		case "f", "F":
			return m.cycleLogFilter(), nil

		case "x", "X":
			m.logBuffer.Clear()
			m.logScroll = 0
			return m, nil

		case "p", "P":
			return m.toggleLogs(), nil

		case "up", "k":
			if m.logScroll < min(maxScroll, max(len(m.recentLogs(logCount+maxScroll))-logCount, 0)) {
				m.logScroll++
			}
			return m, nil

		case "down", "j":
			if m.logScroll > 0 {
				m.logScroll--
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), refreshNodes(m.manager))

	case nodesUpdatedMsg:
		m.nodes = msg.nodes
		return m, nil

	case shutdownCompleteMsg:
		if msg.err != nil {
			logger.Errorf("error stopping nodes during shutdown: %v", msg.err)
		}
		_ = logger.Sync()
		_ = logger.RemoveOutput(m.logWriter)
		if m.logsPaused {
			_ = logger.SetEnabled(true)
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m model) repeat() model {
	switch {
	case m.lastCommand == "create":
		return m.createNode()
	case m.lastCommand == "gossip":
		return m.gossipRound()
	case strings.HasPrefix(m.lastCommand, "delete:"):
		index, err := strconv.Atoi(strings.TrimPrefix(m.lastCommand, "delete:"))
		if err != nil {
			return m
		}
		if len(m.nodes) == 0 {
			m.err = fmt.Errorf("no nodes to delete")
			return m
		}
		return m.deleteNode(index)
	}
	return m
}

func (m model) handleDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.deleteMode = false
		m.selected = 0
		m.err = nil
		m.numericInput = ""
		return m, nil

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.nodes)-1 {
			m.selected++
		}
		return m, nil

	case "enter", " ":
		index := m.selected
		if m.numericInput != "" {
			input := m.numericInput
			m.numericInput = ""
			num, err := strconv.Atoi(input)
			if err != nil {
				m.err = fmt.Errorf("invalid number: %s", input)
				return m, nil
			}
			index = num - 1
		}
		return m.deleteNode(index), nil

	default:
		key := msg.String()
		if len(key) == 1 && key >= "0" && key <= "9" {
			m.numericInput += key
			m.err = nil
			return m, nil
		}
		m.numericInput = ""
		return m, nil
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(1, 2)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(lipgloss.Color("196")).
			Bold(true)
	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))
	instructionsStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				PaddingTop(1)
)

// nodeLine summarizes what one node believes about the cluster.
func nodeLine(n *node.Node) string {
	g := n.Gossiper()
	gen, _ := g.CurrentGeneration(g.Local())
	live := len(g.LiveMembers())
	line := fmt.Sprintf("%-22s gen %-10d live %-3d", n.Endpoint(), gen, live)

	down := g.UnreachableMembers()
	if len(down) == 0 {
		return line
	}
	names := make([]string, len(down))
	for i, ep := range down {
		names[i] = ep.String()
	}
	return line + downStyle.Render(" down: "+strings.Join(names, ", "))
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Hermes Cluster Manager"))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.nodes) == 0 {
		s.WriteString("No nodes running.\n\n")
	} else {
		s.WriteString("Running Nodes:\n\n")
		for i, n := range m.nodes {
			if m.deleteMode && i == m.selected {
				s.WriteString(selectedStyle.Render(fmt.Sprintf("[%d] > %s", i+1, n.Endpoint())))
				s.WriteString("\n")
				continue
			}
			s.WriteString(fmt.Sprintf("  [%d]   %s\n", i+1, nodeLine(n)))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.logView())
	s.WriteString("\n\n")

	if m.deleteMode {
		help := fmt.Sprintf("DELETE MODE: Use ↑/↓/j/k or type node number (1-%d), Enter to confirm, Esc to cancel", len(m.nodes))
		if m.numericInput != "" {
			help = fmt.Sprintf("DELETE MODE: Type node number (current: %s) or Enter to confirm, Esc to cancel", m.numericInput)
		}
		s.WriteString(instructionsStyle.Render(help))
		return s.String()
	}

	help := "Press C to create a node | D to delete a node"
	if m.manual {
		help += " | G to gossip"
	}
	if m.lastCommand != "" {
		help += fmt.Sprintf(" | Enter to repeat (%s)", formatCommandPreview(m.lastCommand))
	}
	help += " | ↑/↓/j/k to scroll logs | F to filter | X to clear | P to pause | Q to quit"
	s.WriteString(instructionsStyle.Render(help))
	return s.String()
}

// logView renders the newest entries first, numbered by age.
func (m model) logView() string {
	entries := m.recentLogs(logCount + m.logScroll)
	end := len(entries) - m.logScroll
	if end < 0 {
		end = 0
	}
	start := max(end-logCount, 0)

	var lines []string
	for i := end - 1; i >= start; i-- {
		age := len(entries) - 1 - i
		lines = append(lines, fmt.Sprintf("%4d | %s", age, logger.FormatLogEntry(entries[i])))
	}
	if len(lines) == 0 {
		lines = []string{"     | (no logs yet)"}
	}

	boxWidth := 100
	if m.width > 0 {
		boxWidth = m.width - 4
	}
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Height(13).
		Width(boxWidth)
	title := "Logs:"
	if m.logFilter != "" {
		title = fmt.Sprintf("Logs of %s:", m.logFilter)
	}
	if m.logsPaused {
		title += " (paused)"
	}
	return logStyle.Render(title + "\n" + strings.Join(lines, "\n"))
}

// formatCommandPreview formats the last command for display
func formatCommandPreview(lastCommand string) string {
	switch {
	case lastCommand == "create":
		return "C"
	case lastCommand == "gossip":
		return "G"
	case strings.HasPrefix(lastCommand, "delete:"):
		if index, err := strconv.Atoi(strings.TrimPrefix(lastCommand, "delete:")); err == nil {
			return fmt.Sprintf("D → %d", index+1)
		}
		return "D → [node]"
	}
	return lastCommand
}

func runInteractive(cmd *cobra.Command, args []string) {
	p := tea.NewProgram(initialModel(interactiveFlags))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running interactive mode: %v\n", err)
	}
}
