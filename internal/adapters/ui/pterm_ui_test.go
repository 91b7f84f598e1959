package ui

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih-ucgun/autoconfig/internal/core"
)

func TestPtermUITableAndTree(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	u := NewPtermUI().WithWriter(&buf)

	require.NoError(t, u.Table([][]string{
		{"Package", "Status"},
		{"shop.war", "ok"},
	}))
	require.NoError(t, u.Tree([]core.TreeItem{
		{Level: 0, Text: "shop.war"},
		{Level: 1, Text: "WEB-INF/lib/core.jar"},
	}))

	out := buf.String()
	assert.Contains(t, out, "shop.war")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "WEB-INF/lib/core.jar")
}

func TestPtermUIEmpty(t *testing.T) {
	var buf bytes.Buffer
	u := NewPtermUI().WithWriter(&buf)
	assert.NoError(t, u.Table(nil))
	assert.NoError(t, u.Tree(nil))
	assert.Empty(t, buf.String())
}
