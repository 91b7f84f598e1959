package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/melih-ucgun/autoconfig/internal/core"
)

// PtermUI is an implementation of core.UI using pterm.
type PtermUI struct {
	writer io.Writer
}

func NewPtermUI() *PtermUI {
	return &PtermUI{
		writer: os.Stdout,
	}
}

var _ core.UI = (*PtermUI)(nil)

func (p *PtermUI) Section(title string) {
	pterm.DefaultSection.WithWriter(p.writer).Println(title)
}

func (p *PtermUI) Title(title string) {
	pterm.DefaultHeader.WithFullWidth().WithWriter(p.writer).Println(title)
}

func (p *PtermUI) Success(msg string) {
	pterm.Success.WithWriter(p.writer).Println(msg)
}

func (p *PtermUI) Info(msg string) {
	pterm.Info.WithWriter(p.writer).Println(msg)
}

func (p *PtermUI) Warning(msg string) {
	pterm.Warning.WithWriter(p.writer).Println(msg)
}

func (p *PtermUI) Error(msg string) {
	pterm.Error.WithWriter(p.writer).Println(msg)
}

// Table treats the first row as the header.
func (p *PtermUI) Table(rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithData(pterm.TableData(rows)).
		WithWriter(p.writer).
		Render()
}

func (p *PtermUI) Tree(items []core.TreeItem) error {
	if len(items) == 0 {
		return nil
	}
	list := make(pterm.LeveledList, 0, len(items))
	for _, item := range items {
		list = append(list, pterm.LeveledListItem{Level: item.Level, Text: item.Text})
	}
	return pterm.DefaultTree.
		WithRoot(putils.TreeFromLeveledList(list)).
		WithWriter(p.writer).
		Render()
}

func (p *PtermUI) Printf(format string, args ...interface{}) {
	fmt.Fprintf(p.writer, format, args...)
}

func (p *PtermUI) WithWriter(w io.Writer) core.UI {
	return &PtermUI{
		writer: w,
	}
}
