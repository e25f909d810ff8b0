// Package storypicker is a browser for the IF-Archive's Z-code collection:
// it scrapes the index page, shows a filterable list and hands the chosen
// story file to the interpreter UI. Downloads are cached on disk.
package storypicker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"zrun/zmachine"
)

const archiveIndexURL = "https://www.ifarchive.org/indexes/if-archive/games/zcode/"
const cacheDuration = 7 * 24 * time.Hour

var docStyle = lipgloss.NewStyle().Margin(1, 2)

var storyFilePattern = regexp.MustCompile(`.*\.z[1234578]$`)
var releaseDatePattern = regexp.MustCompile(`\d{2}-\w{3}-\d{4}`)

type pickerState int

const (
	loadingIndex     pickerState = iota
	choosingStory    pickerState = iota
	downloadingStory pickerState = iota
)

type story struct {
	name        string
	releaseDate time.Time
	url         string
	description string
}

func (s story) Title() string       { return s.name }
func (s story) Description() string { return s.description }
func (s story) FilterValue() string { return s.name + s.description }

// MakeAppModel builds the interpreter UI model once a story is picked.
type MakeAppModel func(*zmachine.ZMachine, chan<- zmachine.InputResponse, chan<- zmachine.SaveRestoreResponse, <-chan any, []byte, string) tea.Model

type Model struct {
	state        pickerState
	storyList    list.Model
	spinner      spinner.Model
	err          error
	makeAppModel MakeAppModel
	selectedName string
	cacheDir     string
}

type indexLoadedMsg []list.Item
type storyDownloadedMsg []uint8
type errMsg struct{ error }

func (e errMsg) Error() string { return e.error.Error() }

func New(makeAppModel MakeAppModel, cacheDir string) tea.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		state:        loadingIndex,
		storyList:    list.New(make([]list.Item, 0), list.NewDefaultDelegate(), 0, 0),
		spinner:      s,
		makeAppModel: makeAppModel,
		cacheDir:     cacheDir,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadIndex(m.cacheDir))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if s, selected := m.storyList.SelectedItem().(story); selected {
				m.state = downloadingStory
				m.selectedName = s.name
				return m, downloadStory(s, m.cacheDir)
			}
		}

	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.storyList.SetSize(msg.Width-h, msg.Height-v)

	case indexLoadedMsg:
		m.state = choosingStory
		m.storyList.SetShowStatusBar(false)
		m.storyList.SetShowTitle(false)
		return m, m.storyList.SetItems([]list.Item(msg))

	case storyDownloadedMsg:
		outputChannel := make(chan any)
		inputChannel := make(chan zmachine.InputResponse)
		saveRestoreChannel := make(chan zmachine.SaveRestoreResponse)

		z, err := zmachine.LoadRom([]uint8(msg), inputChannel, saveRestoreChannel, outputChannel)
		if err != nil {
			m.err = err
			m.state = choosingStory
			return m, nil
		}

		newModel := m.makeAppModel(z, inputChannel, saveRestoreChannel, outputChannel, []byte(msg), m.selectedName)
		return newModel, newModel.Init()

	case errMsg:
		m.err = msg
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.storyList, cmd = m.storyList.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.err != nil {
		return docStyle.Render(m.err.Error())
	}

	switch m.state {
	case loadingIndex:
		return fmt.Sprintf("\n\n   %s Loading the story index...\n\n", m.spinner.View())
	case choosingStory:
		return docStyle.Render(m.storyList.View())
	case downloadingStory:
		return fmt.Sprintf("\n\n   %s Downloading %s...\n\n", m.spinner.View(), m.selectedName)
	default:
		return ""
	}
}

// cacheFilePath keys cache files by a hash of the URL so odd characters in
// archive paths never reach the filesystem.
func cacheFilePath(cacheDir, key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(cacheDir, hex.EncodeToString(hash[:]))
}

func readCache(cacheDir, key string) ([]byte, bool) {
	if cacheDir == "" {
		return nil, false
	}

	path := cacheFilePath(cacheDir, key)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) >= cacheDuration {
		return nil, false
	}

	data, err := os.ReadFile(path)
	return data, err == nil
}

func writeCache(cacheDir, key string, data []byte) {
	if cacheDir == "" {
		return
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return
	}
	os.WriteFile(cacheFilePath(cacheDir, key), data, 0644) // nolint:errcheck
}

type cachedStory struct {
	Name        string    `json:"name"`
	ReleaseDate time.Time `json:"release_date"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
}

func downloadStory(s story, cacheDir string) tea.Cmd {
	return func() tea.Msg {
		if data, ok := readCache(cacheDir, s.url); ok {
			return storyDownloadedMsg(data)
		}

		c := &http.Client{Timeout: 60 * time.Second}
		res, err := c.Get(s.url)
		if err != nil {
			return errMsg{err}
		}
		defer res.Body.Close() // nolint:errcheck

		storyBytes, err := io.ReadAll(res.Body)
		if err != nil {
			return errMsg{err}
		}

		writeCache(cacheDir, s.url, storyBytes)
		return storyDownloadedMsg(storyBytes)
	}
}

func loadIndex(cacheDir string) tea.Cmd {
	return func() tea.Msg {
		if data, ok := readCache(cacheDir, "storyindex"); ok {
			var cached []cachedStory
			if json.Unmarshal(data, &cached) == nil {
				items := make([]list.Item, 0, len(cached))
				for _, cs := range cached {
					items = append(items, story{name: cs.Name, releaseDate: cs.ReleaseDate, url: cs.URL, description: cs.Description})
				}
				return indexLoadedMsg(items)
			}
		}

		c := &http.Client{Timeout: 10 * time.Second}
		res, err := c.Get(archiveIndexURL)
		if err != nil {
			return errMsg{err}
		}
		defer res.Body.Close() // nolint:errcheck
		if res.StatusCode != 200 {
			return errMsg{fmt.Errorf("archive index returned %s", res.Status)}
		}

		doc, err := goquery.NewDocumentFromReader(res.Body)
		if err != nil {
			return errMsg{err}
		}

		stories := parseArchiveIndex(doc)

		var cached []cachedStory
		for _, item := range stories {
			s := item.(story)
			cached = append(cached, cachedStory{Name: s.name, ReleaseDate: s.releaseDate, URL: s.url, Description: s.description})
		}
		if data, err := json.Marshal(cached); err == nil {
			writeCache(cacheDir, "storyindex", data)
		}

		return indexLoadedMsg(stories)
	}
}

// parseArchiveIndex pulls the story entries out of the archive's index page:
// each is a dt with the link plus following siblings holding the description.
func parseArchiveIndex(doc *goquery.Document) []list.Item {
	var stories []list.Item

	doc.Find("dl dt").Each(func(i int, s *goquery.Selection) {
		title := strings.Replace(s.Find("a").Text(), "◆", "", 1)
		href, _ := s.Find("a").Attr("href")

		if !storyFilePattern.MatchString(href) {
			return
		}

		releaseDate, _ := time.Parse("02-Jan-2006", releaseDatePattern.FindString(s.Find("span").Text()))

		var description string
		s.NextUntil("dt").Each(func(j int, sibling *goquery.Selection) {
			if len(sibling.ChildrenFiltered("p").Nodes) == 1 && !strings.Contains(sibling.Text(), "IFDB") && !strings.Contains(sibling.Text(), "IFWiki") {
				description = sibling.Find("p").Text()
			}
		})

		stories = append(stories, story{
			name:        title,
			releaseDate: releaseDate,
			url:         "https://www.ifarchive.org" + href,
			description: description,
		})
	})

	return stories
}
