package ui

import (
	"fmt"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/require"
)

func TestColorForIsStablePerPeer(t *testing.T) {
	th := defaultTheme()

	first := th.ColorFor("peer-a")
	require.Equal(t, first, th.ColorFor("peer-a"))
	require.NotEmpty(t, th.ColorFor("peer-b"))
}

func TestColorForUsesThemeChatPalette(t *testing.T) {
	th := &Theme{colors: map[string]tcell.Color{
		"chat-1": tcell.ColorRed,
		"chat-2": tcell.ColorBlue,
	}}

	allowed := []string{
		fmt.Sprintf("#%06x", tcell.ColorRed.Hex()),
		fmt.Sprintf("#%06x", tcell.ColorBlue.Hex()),
	}
	for i := 0; i < 20; i++ {
		require.Contains(t, allowed, th.ColorFor(string(rune('a'+i))))
	}
}
