package main

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/charlesng35/sectionlock/internal/client"
)

func newTableWriter() table.Writer {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	return tw
}

func renderPresence(c *client.Coordinator) string {
	self := c.Self()

	tw := newTableWriter()
	tw.AppendHeader(table.Row{"USER", "NAME", "CONNECTION", ""})
	for _, collaborator := range c.Collaborators() {
		marker := ""
		if collaborator.ConnectionID == self {
			marker = "(you)"
		}
		tw.AppendRow(table.Row{collaborator.UserID, collaborator.Username, collaborator.ConnectionID, marker})
	}
	return tw.Render()
}

func renderLocks(c *client.Coordinator) string {
	self := c.Self()

	tw := newTableWriter()
	tw.AppendHeader(table.Row{"SECTION", "HOLDER", "CONNECTION", ""})
	for _, lock := range c.Locks() {
		marker := ""
		if lock.ConnectionID == self {
			marker = "(you)"
		}
		tw.AppendRow(table.Row{lock.Section, lock.Username, lock.ConnectionID, marker})
	}
	return tw.Render()
}
