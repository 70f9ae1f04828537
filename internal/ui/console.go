// Package ui implements the peer operator console: a join screen and a
// room screen, built from tview/tcell the way the donor's cmd/client
// built its own login and chat screens, generalized down to this
// module's flat RoomID/PeerID model with no login step.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// knownSlashCommands are the recognized room-screen input commands.
// Anything else entered with a leading slash is rejected rather than
// silently sent as a chat message a peer typo'd.
var knownSlashCommands = []string{"/files"}

// Handlers wires the console to the sync engine without the ui package
// importing it directly, so ui stays testable without a live transport.
type Handlers struct {
	Join         func(roomID string, displayName string) error
	SendChat     func(text string)
	SetManifest  func(files []string) error
	CurrentState func() (sync models.SyncState, peers int, hubConnected bool)
}

// Console is the root tview application: one Join page and one Room
// page, swapped via Pages the same way the donor's UI composed screens.
type Console struct {
	App   *tview.Application
	Pages *tview.Pages
	Theme *Theme

	handlers Handlers

	join *joinScreen
	room *roomScreen
}

// NewConsole builds the console against theme (nil selects an
// unstyled built-in default so a missing theme file is never fatal).
func NewConsole(theme *Theme, handlers Handlers) *Console {
	if theme == nil {
		theme = defaultTheme()
	}
	c := &Console{
		App:      tview.NewApplication().EnableMouse(true),
		Pages:    tview.NewPages(),
		Theme:    theme,
		handlers: handlers,
	}
	c.join = newJoinScreen(c)
	c.room = newRoomScreen(c)

	c.Pages.AddPage("join", c.join.layout, true, true)
	c.App.SetRoot(c.Pages, true).SetFocus(c.join.layout)
	return c
}

// Run blocks until the user quits the application.
func (c *Console) Run() error {
	return c.App.Run()
}

// ShowRoom swaps to the room screen after a successful join.
func (c *Console) ShowRoom(roomID string) {
	c.room.setRoomID(roomID)
	c.Pages.AddPage("room", c.room.layout, true, true)
	c.App.SetFocus(c.room.input)
}

// AppendChat renders one chat line in the room screen, safe to call from
// any goroutine (the sync engine's observer callbacks run on the room
// actor's own goroutine, never the UI goroutine).
func (c *Console) AppendChat(msg models.ChatMessage) {
	c.App.QueueUpdateDraw(func() {
		c.room.appendChat(msg)
	})
}

// SetManifest replaces the rendered file list.
func (c *Console) SetManifest(m models.Manifest) {
	c.App.QueueUpdateDraw(func() {
		c.room.setManifest(m)
	})
}

// SetStatus updates the status line's sync/peer/hub-stream summary.
func (c *Console) SetStatus(state models.SyncState, peers int, hubConnected bool) {
	c.App.QueueUpdateDraw(func() {
		c.room.setStatus(state, peers, hubConnected)
	})
}

func (c *Console) showError(title, message string) {
	modal := tview.NewModal()
	modal.SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) { c.Pages.RemovePage("error") })
	modal.SetBackgroundColor(c.Theme.GetColor("background")).
		SetBorder(true).
		SetTitle(title).
		SetBorderColor(c.Theme.GetColor("red"))
	c.Pages.AddPage("error", modal, true, true)
	c.App.SetFocus(modal)
}

func (c *Console) showToast(message string, d time.Duration) {
	modal := tview.NewModal()
	modal.SetText(message).AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) { c.Pages.RemovePage("toast") })
	modal.SetBackgroundColor(c.Theme.GetColor("background")).
		SetBorder(true).
		SetBorderColor(c.Theme.GetColor("primary"))
	c.Pages.AddPage("toast", modal, true, true)
	c.App.SetFocus(modal)
	if d > 0 {
		go func() {
			time.Sleep(d)
			c.App.QueueUpdateDraw(func() { c.Pages.RemovePage("toast") })
		}()
	}
}

// joinScreen is the first page shown: room id + display name, matching
// the two-field join contract.
type joinScreen struct {
	console *Console
	layout  *tview.Flex
	form    *tview.Form
	roomID  string
	name    string
}

func newJoinScreen(c *Console) *joinScreen {
	j := &joinScreen{console: c}
	j.form = tview.NewForm()
	bg, fieldBg, buttonBg, buttonText, fieldText := c.Theme.FormColors()
	j.form.SetButtonBackgroundColor(buttonBg).
		SetButtonTextColor(buttonText).
		SetFieldBackgroundColor(fieldBg).
		SetFieldTextColor(fieldText).
		SetBackgroundColor(bg).
		SetBorder(true).
		SetTitle(" join a room ").
		SetTitleColor(c.Theme.GetColor("primary"))

	j.form.AddInputField("Room ID     ", "", 40, nil, func(s string) { j.roomID = s })
	j.form.AddInputField("Display name", "", 40, nil, func(s string) { j.name = s })
	j.form.AddButton("Join", j.submit)

	j.layout = tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(j.form, 9, 0, true).
			AddItem(nil, 0, 1, false), 0, 2, true).
		AddItem(nil, 0, 1, false)
	return j
}

func (j *joinScreen) submit() {
	if !utils.ValidRoomID(j.roomID) {
		j.console.showError("join failed", "room id must be at least 16 characters")
		return
	}
	if j.name != "" && !utils.ValidPeerID(j.name) {
		j.console.showError("join failed", "display name must not contain whitespace")
		return
	}
	if j.console.handlers.Join == nil {
		return
	}
	if err := j.console.handlers.Join(j.roomID, j.name); err != nil {
		j.console.showError("join failed", err.Error())
		return
	}
	j.console.ShowRoom(j.roomID)
}

// roomScreen is the three-pane room view: manifest, chat, input.
type roomScreen struct {
	console  *Console
	layout   *tview.Flex
	manifest *tview.List
	chat     *tview.TextView
	input    *tview.InputField
	status   *tview.TextView
}

func newRoomScreen(c *Console) *roomScreen {
	r := &roomScreen{console: c}

	r.manifest = tview.NewList().ShowSecondaryText(false)
	r.manifest.SetBorder(true).SetTitle(" files ").SetBorderColor(c.Theme.GetColor("border"))
	r.manifest.SetBackgroundColor(c.Theme.GetColor("background"))

	r.chat = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	r.chat.SetBorder(true).SetTitle(" chat ").SetBorderColor(c.Theme.GetColor("border"))
	r.chat.SetBackgroundColor(c.Theme.GetColor("background"))

	r.input = tview.NewInputField().SetLabel("> ")
	r.input.SetBackgroundColor(c.Theme.GetColor("background"))
	r.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := r.input.GetText()
		r.input.SetText("")
		if text == "" {
			return
		}
		r.handleInput(text)
	})

	r.status = tview.NewTextView().SetDynamicColors(true)
	r.status.SetBackgroundColor(c.Theme.GetColor("background"))

	main := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(r.manifest, 0, 1, false).
		AddItem(r.chat, 0, 3, false)

	r.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, false).
		AddItem(r.input, 1, 0, true).
		AddItem(r.status, 1, 0, false)
	return r
}

// handleInput interprets "/files <path>..." as a manifest replacement
// and everything else as a chat message, per the console's command
// syntax.
func (r *roomScreen) handleInput(text string) {
	if len(text) > 0 && text[0] == '/' {
		cmd, rest := text, ""
		if sp := strings.IndexByte(text, ' '); sp >= 0 {
			cmd, rest = text[:sp], text[sp+1:]
		}
		if !utils.Contains(knownSlashCommands, cmd) {
			r.console.showError("unknown command", fmt.Sprintf("%s is not a recognized command", cmd))
			return
		}
		paths := splitArgs(rest)
		if r.console.handlers.SetManifest != nil {
			if err := r.console.handlers.SetManifest(paths); err != nil {
				r.console.showError("set manifest failed", err.Error())
			}
		}
		return
	}
	if r.console.handlers.SendChat != nil {
		r.console.handlers.SendChat(text)
	}
}

func splitArgs(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func (r *roomScreen) setRoomID(roomID string) {
	r.layout.SetTitle(fmt.Sprintf(" room %s ", roomID))
}

func (r *roomScreen) appendChat(msg models.ChatMessage) {
	ts := utils.FormatPrettyTime(msg.Ts * 1_000_000)
	color := r.console.Theme.ColorFor(string(msg.From))
	fmt.Fprintf(r.chat, "[gray]%s[-] [%s]%s[-]: %s\n", ts, color, msg.From, msg.Text)
	r.chat.ScrollToEnd()
}

func (r *roomScreen) setManifest(m models.Manifest) {
	r.manifest.Clear()
	for _, fe := range m.Files {
		size := "?"
		if fe.Size != nil {
			size = fmt.Sprintf("%d", *fe.Size)
		}
		short := fe.CID.Digest
		if len(short) > 10 {
			short = short[:10]
		}
		r.manifest.AddItem(fmt.Sprintf("%s  %sB  %s", fe.Name, size, short), "", 0, nil)
	}
}

func (r *roomScreen) setStatus(state models.SyncState, peers int, hubConnected bool) {
	hub := "absent"
	if hubConnected {
		hub = "connected"
	}
	r.status.SetText(fmt.Sprintf("sync: %s  peers: %d  hub-stream: %s", state, peers, hub))
}

// defaultTheme provides a usable palette when no theme file is given,
// instead of failing to start.
func defaultTheme() *Theme {
	return &Theme{
		Name: "default",
		colors: map[string]tcell.Color{
			"background":       tcell.ColorBlack,
			"foreground":       tcell.ColorWhite,
			"primary":          tcell.ColorLightCyan,
			"border":           tcell.ColorGray,
			"input-field":      tcell.ColorDarkSlateGray,
			"button-active":    tcell.ColorDarkCyan,
			"button-text":      tcell.ColorWhite,
			"red":              tcell.ColorRed,
			"modal-background": tcell.ColorBlack,
			"border-focus":     tcell.ColorLightCyan,
		},
	}
}
