package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heavendeskai/askheaven/pkg/assistant"
)

// demoCalendar is an in-memory Calendar so the binary works without any
// provider credentials.
type demoCalendar struct {
	mu     sync.Mutex
	events []assistant.CalendarEvent
}

func newDemoCalendar() *demoCalendar {
	now := time.Now()
	return &demoCalendar{
		events: []assistant.CalendarEvent{
			{
				Summary: "Team standup",
				Start:   now.Add(1 * time.Hour).Format(time.RFC3339),
				End:     now.Add(90 * time.Minute).Format(time.RFC3339),
			},
		},
	}
}

func (c *demoCalendar) Events(_ context.Context, timeMin, timeMax string) ([]assistant.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assistant.CalendarEvent, len(c.events))
	copy(out, c.events)
	return out, nil
}

func (c *demoCalendar) Book(_ context.Context, event assistant.CalendarEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	fmt.Printf("\n[calendar] booked %q %s - %s\n", event.Summary, event.Start, event.End)
	return nil
}

// demoMail is an in-memory Mail collaborator.
type demoMail struct {
	mu    sync.Mutex
	inbox []assistant.InboxMessage
}

func newDemoMail() *demoMail {
	return &demoMail{
		inbox: []assistant.InboxMessage{
			{Sender: "billing@askheaven.io", Snippet: "Your invoice for August is ready."},
			{Sender: "team@askheaven.io", Snippet: "Release notes for the new voice mode."},
		},
	}
}

func (m *demoMail) Inbox(_ context.Context, maxResults int) ([]assistant.InboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxResults <= 0 || maxResults > len(m.inbox) {
		maxResults = len(m.inbox)
	}
	out := make([]assistant.InboxMessage, maxResults)
	copy(out, m.inbox[:maxResults])
	return out, nil
}

func (m *demoMail) Send(_ context.Context, to, subject, body string) error {
	fmt.Printf("\n[mail] sent to %s: %s\n", to, subject)
	return nil
}
