// Package tui provides interactive terminal UI components.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/bookstock/internal/library"
)

const (
	defaultListWidth  = 72
	defaultListHeight = 20
)

var runProgram = func(m tea.Model) (tea.Model, error) {
	return tea.NewProgram(m).Run()
}

// SelectionAction represents the user's action in the selection UI.
type SelectionAction int

const (
	// ActionNone indicates no action was taken.
	ActionNone SelectionAction = iota
	// ActionSelected indicates the user selected an item.
	ActionSelected
	// ActionSkipped indicates the user skipped the selection.
	ActionSkipped
	// ActionStopped indicates the user stopped processing entirely.
	ActionStopped
)

// SelectionResult holds the result of a TUI selection.
type SelectionResult struct {
	Action    SelectionAction
	Selection *library.CatalogItem
}

type catalogItem struct {
	library.SearchHit
}

func (i catalogItem) Title() string {
	return i.Item.Title
}

func (i catalogItem) FilterValue() string {
	return i.Item.Title
}

func (i catalogItem) Description() string {
	return i.Item.Author
}

type itemStyles struct {
	normal        lipgloss.Style
	selected      lipgloss.Style
	badgeStyle    lipgloss.Style
	titleStyle    lipgloss.Style
	authorStyle   lipgloss.Style
	metadataStyle lipgloss.Style
}

func newItemStyles() itemStyles {
	asciiBorder := lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}

	container := lipgloss.NewStyle().
		Border(asciiBorder).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Foreground(lipgloss.Color("252"))

	selected := container.Copy().
		BorderForeground(lipgloss.Color("214")).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("237"))

	return itemStyles{
		normal:   container,
		selected: selected,
		badgeStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("110")),
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("254")),
		authorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("178")),
		metadataStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("247")).
			Faint(true),
	}
}

type catalogDelegate struct {
	styles itemStyles
}

func newDelegate() catalogDelegate {
	return catalogDelegate{styles: newItemStyles()}
}

func (d catalogDelegate) Height() int                         { return 4 }
func (d catalogDelegate) Spacing() int                        { return 1 }
func (d catalogDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (d catalogDelegate) Render(w io.Writer, m list.Model, idx int, item list.Item) {
	hit, ok := item.(catalogItem)
	if !ok {
		return
	}

	badge := "[NEW]"
	if hit.Book != nil {
		badge = "[IN LIBRARY]"
	}

	badgeLine := d.styles.badgeStyle.Render(badge)
	titleLine := d.styles.titleStyle.Render(truncate(hit.Item.Title, m.Width()-4))
	authorLine := d.styles.authorStyle.Render(truncate(hit.Item.Author, m.Width()-4))
	metadataLine := d.styles.metadataStyle.Render(formatMetadata(hit.Item, m.Width()-4))

	content := lipgloss.JoinVertical(lipgloss.Left, badgeLine, titleLine, authorLine, metadataLine)

	container := d.styles.normal
	if idx == m.Index() {
		container = d.styles.selected
	}
	_, _ = fmt.Fprint(w, container.Render(content))
}

type model struct {
	list   list.Model
	query  string
	result SelectionResult
}

func newModel(query string, items []catalogItem) *model {
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}

	delegate := newDelegate()
	l := list.New(listItems, delegate, defaultListWidth, defaultListHeight)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowPagination(false)
	l.DisableQuitKeybindings()
	l.Styles.NoItems = lipgloss.NewStyle()

	return &model{
		list:  l,
		query: query,
		result: SelectionResult{
			Action: ActionNone,
		},
	}
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if selected, ok := m.list.SelectedItem().(catalogItem); ok {
				item := selected.Item
				m.result = SelectionResult{
					Action:    ActionSelected,
					Selection: &item,
				}
				return m, tea.Quit
			}
		case "s", "esc":
			m.result = SelectionResult{Action: ActionSkipped}
			return m, tea.Quit
		case "ctrl+c", "q":
			m.result = SelectionResult{Action: ActionStopped}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		width := clamp(defaultListWidth, msg.Width-4, 40)
		height := clamp(defaultListHeight, msg.Height-6, 5)
		m.list.SetSize(width, height)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	header := headerStyle.Render(fmt.Sprintf("Catalog results for: %s", m.query))
	listView := m.list.View()
	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		skipButtonStyle.Render(" Skip "),
		lipgloss.NewStyle().Padding(0, 2).Render(""),
		stopButtonStyle.Render(" Stop "),
	)
	help := helpStyle.Render("Up/Down navigate | Enter add | s skip | q stop")
	return lipgloss.JoinVertical(lipgloss.Left, header, listView, buttons, help)
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			MarginBottom(1)

	skipButtonStyle = lipgloss.NewStyle().
			MarginTop(1).
			Padding(0, 2).
			Background(lipgloss.Color("178")).
			Foreground(lipgloss.Color("0")).
			Bold(true)

	stopButtonStyle = lipgloss.NewStyle().
			MarginTop(1).
			Padding(0, 2).
			Background(lipgloss.Color("161")).
			Foreground(lipgloss.Color("230")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(lipgloss.Color("244"))
)

// Select lets the user pick one catalog search result to add. Hits that are
// already in the library are listed but marked.
func Select(query string, hits []library.SearchHit) (SelectionResult, error) {
	if len(hits) == 0 {
		return SelectionResult{Action: ActionSkipped}, nil
	}

	items := make([]catalogItem, len(hits))
	for i, hit := range hits {
		items[i] = catalogItem{SearchHit: hit}
	}
	m := newModel(query, items)
	finalModel, err := runProgram(m)
	if err != nil {
		return SelectionResult{}, err
	}

	if typed, ok := finalModel.(*model); ok {
		return typed.result, nil
	}

	return SelectionResult{}, fmt.Errorf("unexpected program result")
}

func truncate(value string, width int) string {
	runes := []rune(strings.Join(strings.Fields(value), " "))
	if width <= 0 || len(runes) <= width {
		return string(runes)
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

// formatMetadata builds the publisher, date and ISBN line
func formatMetadata(item library.CatalogItem, availableWidth int) string {
	var parts []string

	if item.Publisher != "" {
		parts = append(parts, item.Publisher)
	}
	if item.PubDate != "" {
		parts = append(parts, item.PubDate)
	}
	if item.ISBN13 != "" {
		parts = append(parts, "ISBN "+item.ISBN13)
	}
	if len(item.SubInfo.EbookList) > 0 {
		parts = append(parts, "e-book")
	}

	if len(parts) == 0 {
		return "No metadata available"
	}

	metadata := strings.Join(parts, " | ")
	if availableWidth > 0 {
		metadata = truncate(metadata, availableWidth)
	}
	return metadata
}

func clamp(defaultValue, available, minimum int) int {
	width := defaultValue
	if available > 0 && available < defaultValue {
		width = available
	}
	if width < minimum {
		width = minimum
	}
	return width
}
