package presenter

import (
	"strings"
	"time"
	"unicode"
)

var toolLabels = map[string]string{
	"identify_user":         "Identifed User",
	"fetch_slots":           "Viewed Available Slots",
	"book_appointment":      "Booked Appointment",
	"retrieve_appointments": "Retrieved Appointments",
	"cancel_appointment":    "Cancelled Appointment",
	"modify_appointment":    "Modified Appointment",
	"end_conversation":      "Ended Conversation",
}

// ToolLabel returns the display label of a tool name. Unknown names are
// title-cased with underscores turned into spaces.
func ToolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

const summaryDateLayout = "Mon, Jan 2, 2006, 3:04 PM"

var summaryDateInputs = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FormatSummaryDate renders a timestamp for the summary drawer. Values that do
// not parse are returned unchanged.
func FormatSummaryDate(value string) string {
	if value == "" {
		return value
	}
	for _, layout := range summaryDateInputs {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(summaryDateLayout)
		}
	}
	return value
}

// AppointmentTime joins an appointment date and time the way the summary shows it.
func AppointmentTime(date, clock string) string {
	return FormatSummaryDate(date + "T" + clock + ":00")
}
