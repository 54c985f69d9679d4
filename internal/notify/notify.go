// Package notify delivers queue notifications to patients. Delivery is
// best-effort: callers log failures and move on.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
)

type Kind string

const (
	KindTicketUpcoming Kind = "ticket_upcoming"
)

// Notifier is the contract the queue engine dispatches through.
type Notifier interface {
	Send(ctx context.Context, contact string, kind Kind, data map[string]string) error
}

// Provider moves an already rendered message to a recipient.
type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

var defaultTemplates = map[Kind]string{
	KindTicketUpcoming: "Ticket {ticket_id} in {queue_name} is next. Please get ready.",
}

type Dispatcher struct {
	provider  Provider
	templates map[Kind]string
}

func NewDispatcher(provider Provider, overrides map[Kind]string) *Dispatcher {
	templates := make(map[Kind]string, len(defaultTemplates))
	for kind, body := range defaultTemplates {
		templates[kind] = body
	}
	for kind, body := range overrides {
		if strings.TrimSpace(body) != "" {
			templates[kind] = body
		}
	}
	return &Dispatcher{provider: provider, templates: templates}
}

func (d *Dispatcher) Send(ctx context.Context, contact string, kind Kind, data map[string]string) error {
	if contact == "" {
		return fmt.Errorf("notify %s: empty contact", kind)
	}
	body, ok := d.templates[kind]
	if !ok {
		return fmt.Errorf("notify: unknown template %q", kind)
	}
	return d.provider.Send(ctx, renderTemplate(body, data), contact)
}

func renderTemplate(template string, data map[string]string) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			break
		}
		b.WriteString(rest[:start])
		key := rest[start+1 : start+end]
		value, ok := data[key]
		if !ok {
			log.Printf("notify missing variable: %s", key)
		}
		b.WriteString(value)
		rest = rest[start+end+1:]
	}
	b.WriteString(rest)
	return b.String()
}
