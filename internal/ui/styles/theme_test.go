// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTheme(t *testing.T) {
	th := NewTheme()
	require.NotNil(t, th)

	// Every style renders without panicking.
	assert.NotPanics(t, func() {
		th.HeaderTitle.Render("TERMCHAT")
		th.UserLabel.Render("you>")
		th.AssistantLabel.Render("assistant>")
		th.SystemNotice.Render("notice")
		th.ErrorText.Render("error")
	})
}

func TestThemeSetSize(t *testing.T) {
	th := NewTheme()
	th.SetSize(120, 40)
	assert.Equal(t, 120, th.Width)
	assert.Equal(t, 40, th.Height)
}
