package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

// renderSolution prints the per-joint angles and pulses of sol.
func renderSolution(sol kinematics.Solution) string {
	var sb strings.Builder
	p := sol.Pose
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Solution for x=%g y=%g zone=%d", p.X, p.Y, p.Zone)))
	sb.WriteString("\n")

	t := newTable("Joint", "Raw angle", "Applied", "Pulse (us)", "")
	for i, j := range arm.KinematicJoints() {
		note := ""
		if slices.Contains(sol.Saturated, j) {
			note = warnStyle.Render("saturated")
		}
		for _, c := range sol.Clamped {
			if c.Joint == j {
				note = warnStyle.Render("clamped")
			}
		}
		t.Row(
			j.String(),
			fmt.Sprintf("%.4f", sol.RawAngles[i]),
			fmt.Sprintf("%.4f", sol.Angles[i]),
			fmt.Sprintf("%.5f", sol.Pulses[i]),
			note,
		)
	}
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Wrist correction pulse: %.5f us\n", sol.WristCorrectionPulse))
	if sol.RecordID != "" {
		sb.WriteString(dimStyle.Render("Recorded as "+sol.RecordID) + "\n")
	}
	return sb.String()
}

// renderReport prints the commands a move planned and issued.
func renderReport(rep motion.Report) string {
	var sb strings.Builder
	title := string(rep.Kind)
	if rep.Category != "" {
		title += " " + string(rep.Category)
	}
	if rep.Complete() {
		sb.WriteString(successStyle.Render(fmt.Sprintf("%s: %d/%d commands", title, len(rep.Issued), len(rep.Planned))))
	} else {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("%s: %d/%d commands", title, len(rep.Issued), len(rep.Planned))))
	}
	sb.WriteString("\n")

	t := newTable("#", "Joint", "Pulse (us)", "Delay", "")
	for i, st := range rep.Planned {
		state := dimStyle.Render("skipped")
		if i < len(rep.Issued) {
			state = successStyle.Render("sent")
		}
		t.Row(fmt.Sprintf("%d", i+1), st.Joint.String(), fmt.Sprintf("%.5f", st.PulseUs), st.Delay.String(), state)
	}
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	if rep.AuditErr != nil {
		sb.WriteString(warnStyle.Render("audit: "+rep.AuditErr.Error()) + "\n")
	}
	return sb.String()
}
