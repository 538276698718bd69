package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	pathpkg "path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"

	"smalien/internal/emulator"
	"smalien/internal/report"
	smalienlog "smalien/internal/smalien/log"
	"smalien/internal/smalien/styles"
	"smalien/internal/tracker"
	"smalien/internal/vm"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewLeaks
	viewDetails
)

type leakItem struct {
	index      int
	leak       *tracker.Leak
	filterTerm string
}

func (i leakItem) Title() string {
	return fmt.Sprintf("%s->%s", i.leak.SinkClass, i.leak.SinkMethod)
}

func (i leakItem) Description() string { return "" }

func (i leakItem) FilterValue() string { return i.filterTerm }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(leakItem)
	if !ok {
		return
	}
	indicator := " "
	tagStyle := styles.Muted
	if index == m.Index() {
		indicator = ">"
		tagStyle = styles.Selected
	}
	fmt.Fprintf(w, " %s  %s  %s  %s",
		indicator,
		tagStyle.Render(fmt.Sprintf("%-8s", i.leak.Tag)),
		styles.Leak.Render(strings.Join(i.leak.Sources, ",")),
		i.Title())
}

// replayFunc runs the replay; progress is called after every directive.
type replayFunc func(progress func(vm.Order, vm.Result)) (*emulator.Results, error)

type model struct {
	viewport   viewport.Model
	leaksList  list.Model
	detailView viewport.Model
	spinner    spinner.Model
	mode       viewMode
	title      string
	replaying  bool
	directives *atomic.Int64
	results    *emulator.Results
	err        error
	width      int
	height     int

	replay  replayFunc
	listing func(*tracker.Leak) string
	flow    func() string
}

type replayDoneMsg struct {
	res *emulator.Results
	err error
}

func NewModel(title string, replay replayFunc, listing func(*tracker.Leak) string, flow func() string) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	leaksList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	leaksList.SetShowStatusBar(false)
	leaksList.SetFilteringEnabled(true)
	leaksList.Title = "Leaks"
	leaksList.Styles.Title = styles.Title
	leaksList.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Selected

	dvp := viewport.New()
	dvp.SetWidth(80)
	dvp.SetHeight(24)

	m := model{
		viewport:   vp,
		leaksList:  leaksList,
		detailView: dvp,
		spinner:    s,
		mode:       viewSummary,
		title:      title,
		replaying:  true,
		directives: new(atomic.Int64),
		width:      80,
		height:     24,
		replay:     replay,
		listing:    listing,
		flow:       flow,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.replayCmd(), m.spinner.Tick)
}

func (m model) replayCmd() tea.Cmd {
	counter := m.directives
	replay := m.replay
	return func() (msg tea.Msg) {
		defer smalienlog.RecoverPanic("replay", func() {
			msg = replayDoneMsg{err: errors.New("replay aborted by a panic")}
		})
		res, err := replay(func(vm.Order, vm.Result) { counter.Add(1) })
		return replayDoneMsg{res: res, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case replayDoneMsg:
		m.replaying = false
		m.results = msg.res
		m.err = msg.err
		m.updateLeaksList()
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.replaying {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.leaksList.SetWidth(msg.Width)
			m.leaksList.SetHeight(msg.Height - 2)
			m.detailView.SetWidth(msg.Width)
			m.detailView.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.mode == viewLeaks && m.leaksList.FilterState() == list.Filtering {
			// The list owns every key but quit while filtering.
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "s":
				m.selectMode(viewSummary)
				return m, nil
			case "l":
				m.selectMode(viewLeaks)
				return m, nil
			case "enter":
				if m.mode == viewLeaks {
					if item, ok := m.leaksList.SelectedItem().(leakItem); ok {
						m.showLeak(item.index)
					}
				}
				return m, nil
			case "esc":
				if m.mode == viewDetails {
					m.selectMode(viewLeaks)
				}
				return m, nil
			case "tab":
				switch m.mode {
				case viewSummary:
					m.selectMode(viewLeaks)
				default:
					m.selectMode(viewSummary)
				}
				return m, nil
			}
		}
	}

	switch m.mode {
	case viewLeaks:
		m.leaksList, cmd = m.leaksList.Update(msg)
	case viewDetails:
		m.detailView, cmd = m.detailView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// selectMode switches views; the leak views need finished results.
func (m *model) selectMode(mode viewMode) {
	if mode != viewSummary && (m.results == nil || len(m.results.Leaks) == 0) {
		return
	}
	m.mode = mode
}

// showLeak opens the details of the i-th leak.
func (m *model) showLeak(i int) {
	if m.results == nil || i < 0 || i >= len(m.results.Leaks) {
		return
	}
	l := m.results.Leaks[i]

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", styles.Leak.Render(fmt.Sprintf("%s->%s", l.SinkClass, l.SinkMethod)))
	fmt.Fprintf(&b, "%s->%s line %d (%s)\n", l.Class, l.Method, l.Line, l.Tag)
	fmt.Fprintf(&b, "sources: %s\n\n", strings.Join(l.Sources, ", "))
	if m.listing != nil {
		b.WriteString(m.listing(l))
		b.WriteString("\n\n")
	}
	for _, v := range l.Values {
		fmt.Fprintf(&b, "value    %q\n", v)
	}
	if l.ReturnValue != nil {
		fmt.Fprintf(&b, "returned %q\n", *l.ReturnValue)
	}
	if m.flow != nil {
		if flow := m.flow(); flow != "" {
			fmt.Fprintf(&b, "\n%s\n", flow)
		}
	}
	m.detailView.SetContent(b.String())
	m.detailView.GotoTop()
	m.mode = viewDetails
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewLeaks:
		content = m.leaksList.View()
	case viewDetails:
		content = m.detailView.View()
	default:
		content = m.viewport.View()
	}

	var menu string
	switch m.mode {
	case viewLeaks:
		menu = " Enter: details • S: summary • /: filter • Tab: cycle • Q: quit "
	case viewDetails:
		menu = " Esc: leaks • S: summary • Q: quit "
	default:
		if m.results != nil && len(m.results.Leaks) > 0 {
			menu = " L: leaks • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}

func (m *model) updateContent() {
	var md string
	switch {
	case m.results != nil:
		md = report.Markdown(m.title, m.results)
	default:
		md = fmt.Sprintf("# %s\n", m.title)
	}
	if m.replaying {
		md += fmt.Sprintf("\n\n%s Replaying... %d directives", m.spinner.View(), m.directives.Load())
	}
	if m.err != nil {
		md += fmt.Sprintf("\n\n> replay stopped: %s", m.err)
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	rendered, err := styles.Render(md, width-2, false)
	if err != nil {
		rendered = md
	}
	m.viewport.SetContent(rendered)
}

func (m *model) updateLeaksList() {
	if m.results == nil {
		return
	}
	items := make([]list.Item, 0, len(m.results.Leaks))
	for i, l := range m.results.Leaks {
		items = append(items, leakItem{
			index:      i,
			leak:       l,
			filterTerm: strings.Join(append([]string{l.Tag, l.SinkClass, l.SinkMethod, l.Class}, l.Sources...), " "),
		})
	}
	m.leaksList.SetItems(items)
}

func runTUI(ctx context.Context, s *session, tracePath string) error {
	title := fmt.Sprintf("%s / %s", pathpkg.Base(s.progPath), pathpkg.Base(tracePath))
	replay := func(progress func(vm.Order, vm.Result)) (*emulator.Results, error) {
		res, err := s.replay(ctx, tracePath, replayOptions{}, progress)
		if ferr := s.flow.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		return res, err
	}
	listing := func(l *tracker.Leak) string {
		out, err := report.Listing(s.prog, l.Class, l.Line, listingContext)
		if err != nil {
			return err.Error()
		}
		return out
	}

	program := tea.NewProgram(
		NewModel(title, replay, listing, func() string { return flowLines(s, 20) }),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil {
		slog.Error("TUI run error", "error", err)
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
