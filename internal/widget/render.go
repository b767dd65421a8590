package widget

import (
	"fmt"

	"github.com/comigor/citizen-assistant/internal/a11y"
	"github.com/comigor/citizen-assistant/internal/assistant"
)

// Element ids and test ids the page and its tests rely on.
const (
	IDTitle        = "assistant-title"
	IDInstructions = "assistant-instructions"
	IDTypingStatus = "assistant-typing-status"
	IDMessageList  = "assistant-messages"
	TestIDRoot     = "assistant-widget"
	TestIDLauncher = "assistant-launcher"
	TestIDBackdrop = "assistant-backdrop"
	TestIDDialog   = "assistant-dialog"
	TestIDHeader   = "assistant-header"
	TestIDSpacer   = "assistant-content-spacer"
	TestIDMessages = "assistant-message-list"
	TestIDComposer = "assistant-composer"
	TestIDError    = "assistant-error"
	TestIDRetry    = "assistant-retry"
	TestIDOffline  = "assistant-offline"

	ClassBackdropSolid = "backdrop-solid"
	ClassBackdropBlur  = "backdrop-blur"
)

const defaultInstructions = "Ask a question about city services. Press Enter to send."

// Props is the visual contract the host page controls.
type Props struct {
	Open          bool
	Minimized     bool
	ReducedMotion bool
	Title         string
	Instructions  string
}

// Render builds the widget tree for the given props and conversation state.
// The live region is always present; content-only elements are omitted while
// minimized. Error details never reach the tree, only the user notice.
func Render(p Props, s assistant.Snapshot, region a11y.LiveRegion) *Node {
	root := el("div")
	root.TestID = TestIDRoot
	root.Classes = []string{"assistant-widget"}

	live := el("div")
	live.ID = region.ID
	live.Role = region.Role
	live.Text = region.Text
	live.Classes = []string{"sr-only"}
	live.attr("aria-live", string(region.Politeness)).attr("aria-atomic", "true")

	if !p.Open {
		launcher := el("button")
		launcher.TestID = TestIDLauncher
		launcher.Text = "Open assistant"
		launcher.attr("aria-expanded", "false")
		return root.append(launcher, live)
	}

	title := p.Title
	if title == "" {
		title = "City assistant"
	}
	instructions := p.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}

	header := el("header")
	header.TestID = TestIDHeader
	heading := el("h2")
	heading.ID = IDTitle
	heading.Text = title
	toggle := el("button")
	if p.Minimized {
		toggle.Text = "Expand"
		toggle.attr("aria-expanded", "false")
	} else {
		toggle.Text = "Minimize"
		toggle.attr("aria-expanded", "true")
	}
	closeBtn := el("button")
	closeBtn.Text = "Close"
	header.append(heading, toggle, closeBtn)

	dialog := el("section", header)
	dialog.Role = "dialog"
	dialog.TestID = TestIDDialog
	dialog.attr("aria-labelledby", IDTitle)
	dialog.Classes = []string{"assistant-dialog"}
	if p.Minimized {
		dialog.Classes = append(dialog.Classes, "minimized")
		return root.append(dialog, live)
	}

	instr := el("p")
	instr.ID = IDInstructions
	instr.Text = instructions
	dialog.append(instr)

	if s.IsTyping {
		typing := el("p")
		typing.ID = IDTypingStatus
		typing.Role = "status"
		typing.Text = "Assistant is typing…"
		typing.attr("aria-live", "polite")
		dialog.attr("aria-describedby", IDTypingStatus)
		dialog.append(typing)
	} else {
		dialog.attr("aria-describedby", IDInstructions)
	}

	if !s.IsConnected {
		offline := el("p")
		offline.TestID = TestIDOffline
		offline.Text = "You're offline. We'll send your messages when the connection is back."
		dialog.append(offline)
	}

	list := el("ol")
	list.ID = IDMessageList
	list.TestID = TestIDMessages
	list.Role = "log"
	for _, m := range s.Messages {
		list.append(renderMessage(m))
	}
	dialog.append(list)

	if s.Error != nil {
		alert := el("div")
		alert.Role = "alert"
		alert.TestID = TestIDError
		alert.Text = s.Error.UserMessage()
		retry := el("button")
		retry.TestID = TestIDRetry
		retry.Text = "Try again"
		dialog.append(alert.append(retry))
	}

	spacer := el("div")
	spacer.TestID = TestIDSpacer
	spacer.attr("aria-hidden", "true")
	dialog.append(spacer)

	input := el("textarea")
	input.attr("aria-label", "Message")
	send := el("button")
	send.Text = "Send"
	if s.IsLoading {
		send.attr("disabled", "disabled")
		send.attr("aria-busy", "true")
	}
	composer := el("form", input, send)
	composer.TestID = TestIDComposer
	dialog.append(composer)

	backdrop := el("div")
	backdrop.TestID = TestIDBackdrop
	backdrop.attr("aria-hidden", "true")
	if p.ReducedMotion {
		backdrop.Classes = []string{"assistant-backdrop", ClassBackdropSolid}
	} else {
		backdrop.Classes = []string{"assistant-backdrop", ClassBackdropBlur}
	}

	return root.append(backdrop, dialog, live)
}

func renderMessage(m assistant.Message) *Node {
	li := el("li")
	li.ID = fmt.Sprintf("assistant-message-%d", m.ID)
	li.Classes = []string{"message", "message-" + string(m.Role)}
	li.Text = m.Content
	li.attr("data-role", string(m.Role))
	if m.Status != "" {
		li.attr("data-status", string(m.Status))
		li.Classes = append(li.Classes, "status-"+string(m.Status))
	}
	return li
}
