package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heavendeskai/askheaven/pkg/live/protocol"
)

// CalendarEvent is a calendar entry as exchanged with the Calendar
// collaborator. Times are ISO 8601 strings as the model produces them.
type CalendarEvent struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// InboxMessage is a summarized email returned by the Mail collaborator.
type InboxMessage struct {
	Sender  string `json:"sender"`
	Snippet string `json:"snippet"`
}

// Task is a reminder created through the createReminder tool.
type Task struct {
	Text     string
	Category string // "strategic" or "errand"
	Priority string // "high", "medium", "low"
}

// Memory is a long-term fact saved through the remember tool.
type Memory struct {
	Category string
	Key      string
	Value    string
}

// Calendar is the scheduling collaborator behind checkCalendar and
// bookMeeting.
type Calendar interface {
	Events(ctx context.Context, timeMin, timeMax string) ([]CalendarEvent, error)
	Book(ctx context.Context, event CalendarEvent) error
}

// Mail is the email collaborator behind checkInbox and draftEmail.
type Mail interface {
	Inbox(ctx context.Context, maxResults int) ([]InboxMessage, error)
	Send(ctx context.Context, to, subject, body string) error
}

// Phone is the telephony collaborator behind makeCall. It is optional; a
// dispatcher without one acknowledges calls without placing them.
type Phone interface {
	Call(ctx context.Context, number, message string) error
}

// DispatcherConfig configures a Dispatcher. Calendar and Mail are required
// for their respective tools; calls to tools whose collaborator is absent
// produce error results rather than panics.
type DispatcherConfig struct {
	Calendar Calendar
	Mail     Mail
	Phone    Phone

	// OnTask receives reminders created by the model. Optional.
	OnTask func(Task)
	// OnMemory receives long-term facts saved by the model. Optional.
	OnMemory func(Memory)

	// Timeout bounds a single tool execution. Zero means 30 seconds.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Dispatcher executes tool calls against external collaborators. Every call
// yields exactly one FunctionResponse; failures of any kind, including
// handler panics, come back as error-shaped results and are never raised.
type Dispatcher struct {
	cfg DispatcherConfig
}

// NewDispatcher returns a Dispatcher over the given collaborators.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{cfg: cfg.normalized()}
}

// Dispatch runs a single tool call to completion and returns its response.
// The response carries the call's ID and name so the transport can correlate
// it upstream.
func (d *Dispatcher) Dispatch(ctx context.Context, call protocol.FunctionCall) protocol.FunctionResponse {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := d.execute(ctx, call)
	if err != nil {
		d.cfg.Logger.Error("tool call failed",
			"tool", call.Name, "id", call.ID, "error", err)
		return protocol.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"error": err.Error()},
		}
	}
	d.cfg.Logger.Info("tool call done",
		"tool", call.Name, "id", call.ID, "elapsed", time.Since(start))
	return protocol.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]any{"result": result},
	}
}

// DispatchAll runs a batch of calls in order and returns one response per
// call, preserving order.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []protocol.FunctionCall) []protocol.FunctionResponse {
	responses := make([]protocol.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, d.Dispatch(ctx, call))
	}
	return responses
}

func (d *Dispatcher) execute(ctx context.Context, call protocol.FunctionCall) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()

	args := arguments(call.Args)
	switch call.Name {
	case ToolCheckCalendar:
		if d.cfg.Calendar == nil {
			return nil, fmt.Errorf("calendar is not connected")
		}
		events, err := d.cfg.Calendar.Events(ctx, args.str("timeMin"), args.str("timeMax"))
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return "No events found in that range.", nil
		}
		return events, nil

	case ToolBookMeeting:
		if d.cfg.Calendar == nil {
			return nil, fmt.Errorf("calendar is not connected")
		}
		event := CalendarEvent{
			Summary:     args.str("summary"),
			Description: args.str("description"),
			Start:       args.str("startTime"),
			End:         args.str("endTime"),
		}
		if event.Summary == "" {
			return nil, fmt.Errorf("bookMeeting: missing summary")
		}
		if err := d.cfg.Calendar.Book(ctx, event); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Booked %q from %s to %s.", event.Summary, event.Start, event.End), nil

	case ToolCheckInbox:
		if d.cfg.Mail == nil {
			return nil, fmt.Errorf("mail is not connected")
		}
		max := args.num("maxResults", 5)
		messages, err := d.cfg.Mail.Inbox(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(messages) == 0 {
			return "Inbox is clear.", nil
		}
		return messages, nil

	case ToolDraftEmail:
		if d.cfg.Mail == nil {
			return nil, fmt.Errorf("mail is not connected")
		}
		to, subject, body := args.str("to"), args.str("subject"), args.str("body")
		if to == "" {
			return nil, fmt.Errorf("draftEmail: missing recipient")
		}
		if err := d.cfg.Mail.Send(ctx, to, subject, body); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Email sent to %s.", to), nil

	case ToolMakeCall:
		number, message := args.str("number"), args.str("message")
		if number == "" {
			return nil, fmt.Errorf("makeCall: missing number")
		}
		if d.cfg.Phone == nil {
			return "Call initiated.", nil
		}
		if err := d.cfg.Phone.Call(ctx, number, message); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Calling %s.", number), nil

	case ToolCreateReminder:
		task := Task{
			Text:     args.str("text"),
			Category: args.str("category"),
			Priority: args.str("priority"),
		}
		if task.Text == "" {
			return nil, fmt.Errorf("createReminder: missing text")
		}
		if task.Priority == "" {
			task.Priority = "medium"
		}
		if d.cfg.OnTask != nil {
			d.cfg.OnTask(task)
		}
		return fmt.Sprintf("Added %q to the %s list.", task.Text, task.Category), nil

	case ToolRemember:
		memory := Memory{
			Category: args.str("category"),
			Key:      args.str("key"),
			Value:    args.str("value"),
		}
		if memory.Key == "" || memory.Value == "" {
			return nil, fmt.Errorf("remember: missing key or value")
		}
		if d.cfg.OnMemory != nil {
			d.cfg.OnMemory(memory)
		}
		return fmt.Sprintf("Remembered %s: %s.", memory.Key, memory.Value), nil

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

// arguments is a thin view over a tool call's argument map.
type arguments map[string]any

func (a arguments) str(key string) string {
	v, _ := a[key].(string)
	return strings.TrimSpace(v)
}

func (a arguments) num(key string, fallback int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
