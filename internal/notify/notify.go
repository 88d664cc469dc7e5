// Package notify delivers workflow emails.
package notify

import (
	"context"
	"fmt"
	"strings"
)

// Message is one plain-text email addressed to one or more recipients. Each
// recipient receives an individual copy.
type Message struct {
	Kind    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Kinds of workflow messages.
const (
	KindSummaryRequest   = "summary_request"
	KindSummarySubmitted = "summary_submitted"
)

// SummaryRef is the part of a summary quoted in notification bodies.
type SummaryRef struct {
	ID          string
	Title       string
	CompanyName string
}

// SummaryRequest asks company users and admins to review a summary that was
// put into REQUEST.
func SummaryRequest(to []string, ref SummaryRef) Message {
	return Message{
		Kind:    KindSummaryRequest,
		To:      Recipients(to...),
		Subject: fmt.Sprintf("[matchbase] Summary review requested: %s", ref.Title),
		Body: fmt.Sprintf("A summary for %s is waiting for your review.\n\nTitle: %s\nSummary ID: %s\n",
			ref.CompanyName, ref.Title, ref.ID),
	}
}

// SummarySubmitted tells the submitting user and admins that a summary was
// submitted.
func SummarySubmitted(to []string, ref SummaryRef) Message {
	return Message{
		Kind:    KindSummarySubmitted,
		To:      Recipients(to...),
		Subject: fmt.Sprintf("[matchbase] Summary submitted: %s", ref.Title),
		Body: fmt.Sprintf("%s submitted a summary.\n\nTitle: %s\nSummary ID: %s\n",
			ref.CompanyName, ref.Title, ref.ID),
	}
}

// Recipients trims, lower-cases and de-duplicates addresses, keeping the
// first occurrence order.
func Recipients(addrs ...string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
