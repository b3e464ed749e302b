// Package assistant holds Heaven's tool surface: the declarations advertised
// to the model, the dispatcher that executes incoming tool calls against
// external collaborators, and persona assembly for the session's system
// instruction.
package assistant

import (
	"github.com/heavendeskai/askheaven/pkg/live/protocol"
)

// Tool names recognized by the dispatcher.
const (
	ToolCheckCalendar  = "checkCalendar"
	ToolBookMeeting    = "bookMeeting"
	ToolCheckInbox     = "checkInbox"
	ToolDraftEmail     = "draftEmail"
	ToolMakeCall       = "makeCall"
	ToolCreateReminder = "createReminder"
	ToolRemember       = "remember"

	// ToolWebSearch is declared for premium profiles only and executed
	// upstream; the dispatcher never sees it.
	ToolWebSearch = "googleSearch"
)

func stringProp(description string) *protocol.Schema {
	return &protocol.Schema{Type: "string", Description: description}
}

// Declarations returns the tool set advertised for a session. Premium
// profiles additionally get the upstream web-search tool.
func Declarations(profile *UserProfile) []protocol.ToolDeclaration {
	decls := []protocol.ToolDeclaration{
		{
			Name:        ToolCheckCalendar,
			Description: "Get calendar events for a specific date range. Use this to check availability or summarize the schedule.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"timeMin": stringProp("Start time in ISO format (e.g., 2023-10-27T00:00:00Z)."),
					"timeMax": stringProp("End time in ISO format."),
				},
				Required: []string{"timeMin"},
			},
		},
		{
			Name:        ToolBookMeeting,
			Description: "Book a calendar event immediately.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"summary":     stringProp("Title of the event."),
					"startTime":   stringProp("Start time in ISO format."),
					"endTime":     stringProp("End time in ISO format."),
					"description": stringProp("Description or agenda for the meeting."),
				},
				Required: []string{"summary", "startTime", "endTime"},
			},
		},
		{
			Name:        ToolCheckInbox,
			Description: "Check for recent emails in the inbox.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"maxResults": {Type: "number", Description: "Number of emails to fetch (default 5)"},
				},
			},
		},
		{
			Name:        ToolDraftEmail,
			Description: "Draft and SEND an email immediately. Use with caution.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"to":      stringProp("The recipient email address."),
					"subject": stringProp("The subject line."),
					"body":    stringProp("The email body content."),
				},
				Required: []string{"to", "subject", "body"},
			},
		},
		{
			Name:        ToolMakeCall,
			Description: "Initiate a phone call to a contact.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"number":  stringProp("Phone number to call."),
					"message": stringProp("The purpose of the call or message to deliver."),
				},
				Required: []string{"number", "message"},
			},
		},
		{
			Name:        ToolCreateReminder,
			Description: "Add a task, errand, or reminder to the users list. Use for things like \"Buy milk\", \"Call Mom\", \"Finish report\".",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"text": stringProp("The content of the reminder."),
					"category": {
						Type:        "string",
						Description: "Either \"strategic\" (for work/business goals) or \"errand\" (for personal/quick tasks).",
						Enum:        []string{"strategic", "errand"},
					},
					"priority": {
						Type:        "string",
						Description: "high, medium, or low",
						Enum:        []string{"high", "medium", "low"},
					},
				},
				Required: []string{"text", "category"},
			},
		},
		{
			Name:        ToolRemember,
			Description: "Save a persistent fact, preference, or detail about the user to long-term memory.",
			Parameters: &protocol.Schema{
				Type: "object",
				Properties: map[string]*protocol.Schema{
					"category": {
						Type:        "string",
						Description: "The type of information.",
						Enum:        []string{"person", "preference", "project", "fact"},
					},
					"key":   stringProp("A short label for the memory (e.g., \"Coffee Order\")."),
					"value": stringProp("The detail to remember."),
				},
				Required: []string{"category", "key", "value"},
			},
		},
	}

	if profile != nil && profile.Premium() {
		decls = append(decls, protocol.ToolDeclaration{
			Name:        ToolWebSearch,
			Description: "Search the web for up-to-date information.",
		})
	}
	return decls
}
