// Package bot routes inbound chat events: slash commands, questionnaire
// button presses, and free text.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/flow"
	"github.com/DistressWatch/DistressWatch/internal/messaging"
	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/scheduler"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// Reply texts.
const (
	startRegistered   = "Welcome back, %s! You're all set - I'll check in with you on schedule. Send /help to see what I can do."
	startUnregistered = "Hello! I'm DistressWatch, a companion for tracking diabetes-related distress. Send /register to sign up for check-ins."
	registerCreated   = "You're registered, %s! I'll check in with you on schedule. Send /help anytime."
	registerExisting  = "You're already registered, %s. Send /status to see your details."
	notRegisteredMsg  = "You're not registered yet. Send /register to sign up."
	pausedMsg         = "Check-ins paused. Send /resume when you're ready to continue."
	alreadyPausedMsg  = "Your check-ins are already paused."
	resumedMsg        = "Welcome back! Check-ins resumed."
	alreadyActiveMsg  = "Your check-ins are already active."
	blockedResumeMsg  = "Your account is currently blocked. Please contact the care team to restore check-ins."
	promptOpenMsg     = "You already have a question waiting - please answer it first."
	expiredAnswerMsg  = "That question has expired. A fresh one will arrive with the next check-in, or send /questionnaire."
	supportUsageMsg   = "Tell me what's on your mind: /support <your message>"
	supportDownMsg    = "The support companion isn't available right now. Please reach out to your care team if you need to talk."
	supportErrorMsg   = "Sorry, I couldn't come up with a reply just now. Please try again in a moment."
	noResponsesMsg    = "No responses recorded yet. Your first check-in will appear here."
	freeTextHint      = "I didn't catch that. Send /help to see the commands I understand."

	helpText = "Here's what I can do:\n" +
		"/register - sign up for scheduled check-ins\n" +
		"/status - your registration and alert status\n" +
		"/questionnaire - start a check-in right now\n" +
		"/pause - pause scheduled check-ins\n" +
		"/resume - resume scheduled check-ins\n" +
		"/support <message> - talk to the support companion\n" +
		"/export - a summary of your responses\n" +
		"/health - service status\n" +
		"/help - this message"
)

// Supporter generates /support replies. Nil means the feature is off.
type Supporter interface {
	Reply(ctx context.Context, patient models.Patient, message string) (string, error)
}

// Bot consumes the messaging event channel and drives the lifecycle,
// questionnaire, and support components.
type Bot struct {
	store         store.Store
	msg           messaging.Service
	lifecycle     *flow.Lifecycle
	questionnaire *flow.Questionnaire
	support       Supporter
	schedStatus   func() scheduler.Status
}

// New creates a Bot. support may be nil (no API key configured);
// schedStatus supplies the /health snapshot.
func New(st store.Store, msg messaging.Service, lc *flow.Lifecycle, q *flow.Questionnaire, support Supporter, schedStatus func() scheduler.Status) *Bot {
	return &Bot{
		store:         st,
		msg:           msg,
		lifecycle:     lc,
		questionnaire: q,
		support:       support,
		schedStatus:   schedStatus,
	}
}

// Run consumes events until the channel closes or the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("Bot event loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot event loop stopping")
			return
		case ev, ok := <-b.msg.Events():
			if !ok {
				slog.Info("Bot event channel closed")
				return
			}
			b.handleEvent(ctx, ev)
		}
	}
}

// handleEvent dispatches one inbound event. Errors are handled here; the
// loop never aborts on a bad event.
func (b *Bot) handleEvent(ctx context.Context, ev messaging.Event) {
	slog.Debug("Bot handling event", "kind", ev.Kind, "chatID", ev.ChatID, "command", ev.Command)

	patient, err := b.store.GetPatientByTelegramID(ev.ChatID)
	if err != nil {
		slog.Error("Bot failed to look up patient", "error", err, "chatID", ev.ChatID)
		return
	}
	if patient != nil {
		if err := b.store.TouchLastInteraction(patient.ID, ev.Time); err != nil {
			slog.Error("Bot failed to touch last interaction", "error", err, "patientID", patient.ID)
		}
	}

	switch ev.Kind {
	case messaging.EventCommand:
		b.handleCommand(ctx, ev, patient)
	case messaging.EventCallback:
		b.handleCallback(ctx, ev, patient)
	case messaging.EventText:
		if patient == nil {
			b.reply(ctx, ev.ChatID, startUnregistered)
			return
		}
		b.reply(ctx, ev.ChatID, freeTextHint)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev messaging.Event, patient *models.Patient) {
	switch ev.Command {
	case "start":
		if patient != nil {
			b.reply(ctx, ev.ChatID, fmt.Sprintf(startRegistered, patient.FirstName))
			return
		}
		b.reply(ctx, ev.ChatID, startUnregistered)

	case "register":
		p, created, err := b.lifecycle.Register(ctx, ev.ChatID, ev.FirstName, ev.FamilyName)
		if err != nil {
			slog.Error("Bot registration failed", "error", err, "chatID", ev.ChatID)
			return
		}
		if created {
			b.reply(ctx, ev.ChatID, fmt.Sprintf(registerCreated, p.FirstName))
			return
		}
		b.reply(ctx, ev.ChatID, fmt.Sprintf(registerExisting, p.FirstName))

	case "help":
		b.reply(ctx, ev.ChatID, helpText)

	case "status":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		b.reply(ctx, ev.ChatID, statusText(*patient))

	case "pause":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		changed, err := b.lifecycle.Pause(ctx, *patient)
		if err != nil {
			slog.Error("Bot pause failed", "error", err, "patientID", patient.ID)
			return
		}
		if changed {
			b.reply(ctx, ev.ChatID, pausedMsg)
			return
		}
		b.reply(ctx, ev.ChatID, alreadyPausedMsg)

	case "resume":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		changed, err := b.lifecycle.Resume(ctx, *patient)
		if errors.Is(err, models.ErrPatientBlocked) {
			b.reply(ctx, ev.ChatID, blockedResumeMsg)
			return
		}
		if err != nil {
			slog.Error("Bot resume failed", "error", err, "patientID", patient.ID)
			return
		}
		if changed {
			b.reply(ctx, ev.ChatID, resumedMsg)
			return
		}
		b.reply(ctx, ev.ChatID, alreadyActiveMsg)

	case "questionnaire":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		switch err := b.questionnaire.Issue(ctx, *patient); {
		case err == nil:
		case errors.Is(err, models.ErrPromptAlreadyOpen):
			b.reply(ctx, ev.ChatID, promptOpenMsg)
		case errors.Is(err, models.ErrPatientBlocked):
			b.reply(ctx, ev.ChatID, blockedResumeMsg)
		default:
			slog.Error("Bot manual questionnaire failed", "error", err, "patientID", patient.ID)
		}

	case "support":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		b.handleSupport(ctx, ev, *patient)

	case "export":
		if patient == nil {
			b.reply(ctx, ev.ChatID, notRegisteredMsg)
			return
		}
		b.handleExport(ctx, ev, *patient)

	case "health":
		b.reply(ctx, ev.ChatID, healthText(b.schedStatus()))

	default:
		slog.Debug("Bot ignoring unknown command", "command", ev.Command, "chatID", ev.ChatID)
		b.reply(ctx, ev.ChatID, freeTextHint)
	}
}

// handleCallback correlates a button press to the patient's open prompt.
// Unparseable or mismatched callbacks are discarded without a reply.
func (b *Bot) handleCallback(ctx context.Context, ev messaging.Event, patient *models.Patient) {
	if patient == nil {
		b.reply(ctx, ev.ChatID, notRegisteredMsg)
		return
	}
	answer, err := models.ParseCallbackData(ev.CallbackData)
	if err != nil {
		slog.Warn("Bot discarding unparseable callback", "error", err, "chatID", ev.ChatID, "data", ev.CallbackData)
		return
	}
	switch err := b.questionnaire.HandleAnswer(ctx, *patient, answer); {
	case err == nil:
	case errors.Is(err, models.ErrNoOpenPrompt):
		b.reply(ctx, ev.ChatID, expiredAnswerMsg)
	case errors.Is(err, models.ErrUnrecognizedCallback):
		slog.Warn("Bot discarding mismatched callback", "patientID", patient.ID, "data", ev.CallbackData)
	default:
		slog.Error("Bot failed to handle answer", "error", err, "patientID", patient.ID)
	}
}

func (b *Bot) handleSupport(ctx context.Context, ev messaging.Event, patient models.Patient) {
	message := strings.TrimSpace(ev.Args)
	if message == "" {
		b.reply(ctx, ev.ChatID, supportUsageMsg)
		return
	}
	if b.support == nil {
		b.reply(ctx, ev.ChatID, supportDownMsg)
		return
	}
	reply, err := b.support.Reply(ctx, patient, message)
	if err != nil {
		slog.Error("Bot support reply failed", "error", err, "patientID", patient.ID)
		b.reply(ctx, ev.ChatID, supportErrorMsg)
		return
	}
	b.reply(ctx, ev.ChatID, reply)
}

func (b *Bot) handleExport(ctx context.Context, ev messaging.Event, patient models.Patient) {
	responses, err := b.store.ListResponsesByPatient(patient.ID)
	if err != nil {
		slog.Error("Bot export failed", "error", err, "patientID", patient.ID)
		return
	}
	if len(responses) == 0 {
		b.reply(ctx, ev.ChatID, noResponsesMsg)
		return
	}
	b.reply(ctx, ev.ChatID, exportText(responses))
}

// reply sends a text response, logging delivery failures.
func (b *Bot) reply(ctx context.Context, chatID, text string) {
	if err := b.msg.SendText(ctx, chatID, text); err != nil {
		slog.Error("Bot failed to send reply", "error", err, "chatID", chatID)
	}
}

// statusText renders the /status report.
func statusText(p models.Patient) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s %s\n", p.FirstName, p.FamilyName)
	fmt.Fprintf(&sb, "Check-ins: %s\n", statusWord(p.Status))
	fmt.Fprintf(&sb, "Registered: %s", p.RegisteredAt.Format("2006-01-02"))
	if p.LastInteraction != nil {
		fmt.Fprintf(&sb, "\nLast interaction: %s", p.LastInteraction.Format("2006-01-02 15:04"))
	}
	return sb.String()
}

func statusWord(s models.PatientStatus) string {
	switch s {
	case models.StatusActive:
		return "active"
	case models.StatusInactive:
		return "paused"
	case models.StatusBlocked:
		return "blocked"
	}
	return string(s)
}

// exportText summarizes a patient's responses: count per question type and
// the latest response time.
func exportText(responses []models.Response) string {
	counts := map[models.QuestionType]int{}
	var latest time.Time
	for _, r := range responses {
		counts[r.QuestionType]++
		if r.RespondedAt.After(latest) {
			latest = r.RespondedAt
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your response summary:\n")
	fmt.Fprintf(&sb, "Distress checks answered: %d\n", counts[models.QuestionDistressCheck])
	fmt.Fprintf(&sb, "Severity ratings given: %d\n", counts[models.QuestionSeverityRating])
	fmt.Fprintf(&sb, "Last response: %s", latest.Format("2006-01-02 15:04"))
	return sb.String()
}

// healthText renders the /health report from the scheduler snapshot.
func healthText(s scheduler.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scheduler running: %t\n", s.Running)
	fmt.Fprintf(&sb, "Cadence: %s (%s)\n", s.Mode, strings.Join(s.Entries, ", "))
	if s.LastSweepEnd.IsZero() {
		fmt.Fprintf(&sb, "Last sweep: never")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Last sweep: %s (sent %d, failed %d)", s.LastSweepEnd.Format("2006-01-02 15:04:05"), s.LastSweepSent, s.LastSweepFailed)
	return sb.String()
}
