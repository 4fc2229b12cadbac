package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/7777tbone7777/aiagents/internal/calllog"
)

// maxSummaryTurns bounds how much transcript goes into the recap email.
const maxSummaryTurns = 8

// Notifier composes and sends the post-call recap to the business owner.
type Notifier struct {
	client      *Client
	ownerEmail  string
	companyName string
	agentName   string
}

func NewNotifier(client *Client, ownerEmail, companyName, agentName string) *Notifier {
	if companyName == "" {
		companyName = "Bolt AI"
	}
	if agentName == "" {
		agentName = "Bolt"
	}
	return &Notifier{
		client:      client,
		ownerEmail:  strings.TrimSpace(ownerEmail),
		companyName: companyName,
		agentName:   agentName,
	}
}

// FinalizeCall gathers everything the store holds about one finished call and
// emails the recap. Lookup failures are logged, never propagated: a lost email
// must not affect call teardown.
func (n *Notifier) FinalizeCall(ctx context.Context, store calllog.Store, callSid string) {
	if n.client == nil || !n.client.Enabled() || n.ownerEmail == "" {
		return
	}

	record, err := store.Call(ctx, callSid)
	if err != nil {
		log.Printf("notify: load call %s failed: %v", callSid, err)
		return
	}
	turns, err := store.Turns(ctx, callSid)
	if err != nil {
		log.Printf("notify: load turns for %s failed: %v", callSid, err)
	}
	appts, err := store.Appointments(ctx, callSid)
	if err != nil {
		log.Printf("notify: load appointments for %s failed: %v", callSid, err)
	}
	n.CallSummary(ctx, record, turns, appts)
}

// CallSummary emails the owner a recap of one finished call. Failures are
// logged, never propagated: a lost email must not affect call teardown.
func (n *Notifier) CallSummary(ctx context.Context, record calllog.CallRecord, turns []calllog.TranscriptTurn, appts []calllog.Appointment) {
	if n.client == nil || !n.client.Enabled() || n.ownerEmail == "" {
		return
	}

	subject := fmt.Sprintf("%s call recap (%s)", n.companyName, record.CallSid)
	body := n.composeBody(record, turns, appts)
	if err := n.client.Send(ctx, n.ownerEmail, subject, body); err != nil {
		log.Printf("notify: call summary for %s failed: %v", record.CallSid, err)
	}
}

func (n *Notifier) composeBody(record calllog.CallRecord, turns []calllog.TranscriptTurn, appts []calllog.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call %s finished with status %q after %ds.\n\n", record.CallSid, record.Status, record.DurationSecs)

	if len(turns) > 0 {
		b.WriteString("Recent highlights from the call:\n")
		start := 0
		if len(turns) > maxSummaryTurns {
			start = len(turns) - maxSummaryTurns
		}
		for _, turn := range turns[start:] {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(turn.Role), turn.Content)
		}
		b.WriteString("\n")
	}

	for _, appt := range appts {
		fmt.Fprintf(&b, "APPOINTMENT CONFIRMED\nScheduled for %s (caller said %q).\n\n",
			appt.StartsAt.Format("Monday, January 2, 2006 at 3:04 PM"), appt.RawText)
	}

	fmt.Fprintf(&b, "Best,\n%s, %s\n", n.agentName, n.companyName)
	return b.String()
}
