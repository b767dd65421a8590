package widget

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/citizen-assistant/internal/a11y"
	"github.com/comigor/citizen-assistant/internal/assistant"
)

func region() a11y.LiveRegion {
	return a11y.NewAnnouncer("").Region()
}

func idle() assistant.Snapshot {
	return assistant.Snapshot{State: assistant.StateIdle, IsConnected: true, Connection: assistant.Connected}
}

func TestRender_Closed(t *testing.T) {
	root := Render(Props{}, idle(), region())

	require.NotNil(t, root.ByTestID(TestIDLauncher))
	require.Nil(t, root.ByTestID(TestIDDialog))
	live := root.ByID(a11y.DefaultRegionID)
	require.NotNil(t, live, "live region is present even when closed")
	require.Equal(t, "status", live.Role)
	require.Equal(t, "polite", live.Attrs["aria-live"])
}

func TestRender_BackdropFollowsReducedMotion(t *testing.T) {
	root := Render(Props{Open: true}, idle(), region())
	backdrop := root.ByTestID(TestIDBackdrop)
	require.True(t, backdrop.HasClass(ClassBackdropBlur))
	require.False(t, backdrop.HasClass(ClassBackdropSolid))

	root = Render(Props{Open: true, ReducedMotion: true}, idle(), region())
	backdrop = root.ByTestID(TestIDBackdrop)
	require.True(t, backdrop.HasClass(ClassBackdropSolid))
	require.False(t, backdrop.HasClass(ClassBackdropBlur))
}

func TestRender_MinimizedKeepsHeaderAndLiveRegion(t *testing.T) {
	root := Render(Props{Open: true, Minimized: true}, idle(), region())

	require.NotNil(t, root.ByTestID(TestIDDialog))
	require.NotNil(t, root.ByTestID(TestIDHeader))
	require.NotNil(t, root.ByID(a11y.DefaultRegionID))
	require.Nil(t, root.ByTestID(TestIDSpacer))
	require.Nil(t, root.ByTestID(TestIDMessages))
	require.Nil(t, root.ByTestID(TestIDComposer))
	require.Nil(t, root.ByTestID(TestIDBackdrop))
}

func TestRender_ExpandedHasSpacer(t *testing.T) {
	root := Render(Props{Open: true}, idle(), region())
	require.NotNil(t, root.ByTestID(TestIDSpacer))
	require.Equal(t, "log", root.ByTestID(TestIDMessages).Role)
}

func TestRender_TypingStatus(t *testing.T) {
	s := idle()
	root := Render(Props{Open: true}, s, region())
	dialog := root.ByTestID(TestIDDialog)
	require.Nil(t, root.ByID(IDTypingStatus))
	require.Equal(t, IDInstructions, dialog.Attrs["aria-describedby"])

	s.State = assistant.StateTypingPause
	s.IsTyping = true
	s.IsLoading = true
	root = Render(Props{Open: true}, s, region())
	dialog = root.ByTestID(TestIDDialog)
	typing := root.ByID(IDTypingStatus)
	require.NotNil(t, typing)
	require.Equal(t, "status", typing.Role)
	require.Equal(t, IDTypingStatus, dialog.Attrs["aria-describedby"])
	require.Equal(t, IDTitle, dialog.Attrs["aria-labelledby"])
}

func TestRender_ErrorShowsOnlyUserMessage(t *testing.T) {
	s := idle()
	s.State = assistant.StateError
	s.Error = &assistant.ChatError{Kind: assistant.KindHTTPStatus, StatusCode: 500, Excerpt: "<html>trace</html>"}

	root := Render(Props{Open: true}, s, region())
	alert := root.ByTestID(TestIDError)
	require.NotNil(t, alert)
	require.Equal(t, "alert", alert.Role)
	require.Equal(t, s.Error.UserMessage(), alert.Text)
	require.NotNil(t, alert.ByTestID(TestIDRetry))
	require.NotContains(t, root.HTML(), "trace")
}

func TestRender_MessagesAndOffline(t *testing.T) {
	s := idle()
	s.IsConnected = false
	s.Connection = assistant.Disconnected
	s.Messages = []assistant.Message{
		{ID: 1, Role: assistant.RoleUser, Content: "Where is <city hall>?", Status: assistant.StatusPending},
		{ID: 2, Role: assistant.RoleAssistant, Content: "Main street."},
	}

	root := Render(Props{Open: true}, s, region())
	require.NotNil(t, root.ByTestID(TestIDOffline))
	list := root.ByTestID(TestIDMessages)
	require.Len(t, list.Children, 2)
	require.Equal(t, "pending", list.Children[0].Attrs["data-status"])
	require.True(t, list.Children[1].HasClass("message-assistant"))
	require.Contains(t, root.HTML(), "Where is &lt;city hall&gt;?")
}

func TestRender_SendDisabledWhileLoading(t *testing.T) {
	s := idle()
	s.IsLoading = true
	root := Render(Props{Open: true}, s, region())
	send := root.ByTestID(TestIDComposer).Find(func(n *Node) bool { return n.Tag == "button" })
	require.Equal(t, "disabled", send.Attrs["disabled"])
}
