package presenter

import (
	"fmt"
	"io"
	"strings"
)

// Render writes v as plain text for a terminal.
func Render(w io.Writer, v View) error {
	var b strings.Builder

	if v.StatusText == "" {
		fmt.Fprintf(&b, "[%s]\n", v.Badge)
	} else {
		fmt.Fprintf(&b, "[%s] %s\n", v.Badge, v.StatusText)
	}
	if v.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", v.Error)
	}
	if v.ToolToast != nil {
		fmt.Fprintf(&b, "tool call: %s", v.ToolToast.Label)
		if v.ToolToast.Detail != "" {
			fmt.Fprintf(&b, " - %s", v.ToolToast.Detail)
		}
		if v.ToolToast.Status != "" {
			fmt.Fprintf(&b, " (%s)", v.ToolToast.Status)
		}
		b.WriteString("\n")
	}
	if v.SummaryToast {
		b.WriteString("summary ready\n")
	}

	switch v.Drawer {
	case DrawerTools:
		fmt.Fprintf(&b, "tool calls (%d)\n", len(v.ToolCalls))
		if len(v.ToolCalls) == 0 {
			b.WriteString("  none yet\n")
		}
		for _, t := range v.ToolCalls {
			fmt.Fprintf(&b, "  %s", t.Label)
			if t.Status != "" {
				fmt.Fprintf(&b, " [%s]", t.Status)
			}
			if t.Detail != "" {
				fmt.Fprintf(&b, ": %s", t.Detail)
			}
			b.WriteString("\n")
		}
	case DrawerSummary:
		b.WriteString("summary\n")
		if v.Summary == nil {
			fmt.Fprintf(&b, "  %s\n", TextNoSummary)
			break
		}
		fmt.Fprintf(&b, "  %s\n", v.Summary.Text)
		for _, a := range v.Summary.Appointments {
			fmt.Fprintf(&b, "  booked: %s, %s, %s\n", a.Name, a.When, a.ContactNumber)
		}
		for _, pref := range v.Summary.Preferences {
			fmt.Fprintf(&b, "  preference: %s\n", pref)
		}
	}

	action := "end"
	if v.Action == ActionConnect {
		action = "start"
	}
	fmt.Fprintf(&b, "> %s | tools (%d) | summary | quit\n", action, len(v.ToolCalls))

	_, err := io.WriteString(w, b.String())
	return err
}
