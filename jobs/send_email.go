package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/arcadia-sis/arcadia-sis/internal/notify"
)

// EmailJob delivers queued notification events over SMTP. Recipient addresses
// are resolved from the database at delivery time, so a changed email between
// enqueue and delivery still reaches the student.
type EmailJob struct {
	pool   *pgxpool.Pool
	host   string
	port   int
	from   string
	logger *slog.Logger
	send   func(addr, from string, to []string, msg []byte) error
}

// NewEmailJob constructs the job.
func NewEmailJob(pool *pgxpool.Pool, host string, port int, from string, logger *slog.Logger) *EmailJob {
	return &EmailJob{
		pool:   pool,
		host:   host,
		port:   port,
		from:   from,
		logger: logger,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Handle processes notify email tasks.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var ev notify.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return asynq.SkipRetry
	}

	recipient, err := j.resolveRecipient(ctx, ev)
	if err != nil {
		if j.logger != nil {
			j.logger.Warn("email recipient not resolved",
				slog.String("type", ev.Type),
				slog.Any("error", err),
			)
		}
		// No recipient will appear on retry either.
		return asynq.SkipRetry
	}

	subject, body := j.compose(ev)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", j.from, recipient, subject, body)
	addr := fmt.Sprintf("%s:%d", j.host, j.port)
	if err := j.send(addr, j.from, []string{recipient}, []byte(msg)); err != nil {
		if j.logger != nil {
			j.logger.Error("email delivery failed", slog.String("to", recipient), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// resolveRecipient maps the event to the student's account email.
func (j *EmailJob) resolveRecipient(ctx context.Context, ev notify.Event) (string, error) {
	if j.pool == nil {
		return "", fmt.Errorf("no database pool configured")
	}
	if invoiceID, ok := ev.Data["invoice_id"].(string); ok && invoiceID != "" {
		return j.emailByQuery(ctx, `
			SELECT u.email FROM invoices i
			JOIN students s ON s.id = i.student_id
			JOIN users u ON u.id = s.user_id
			WHERE i.id = $1`, invoiceID)
	}
	if housingID, ok := ev.Data["housing_application_id"].(string); ok && housingID != "" {
		return j.emailByQuery(ctx, `
			SELECT u.email FROM housing_applications ha
			JOIN students s ON s.id = ha.student_id
			JOIN users u ON u.id = s.user_id
			WHERE ha.id = $1`, housingID)
	}
	if ev.ApplicationID != "" {
		return j.emailByQuery(ctx, `
			SELECT u.email FROM applications a
			JOIN students s ON s.id = a.student_id
			JOIN users u ON u.id = s.user_id
			WHERE a.id = $1`, ev.ApplicationID)
	}
	return "", fmt.Errorf("event carries no addressable entity")
}

func (j *EmailJob) emailByQuery(ctx context.Context, query, id string) (string, error) {
	var email string
	if err := j.pool.QueryRow(ctx, query, id).Scan(&email); err != nil {
		return "", err
	}
	return email, nil
}

func (j *EmailJob) compose(ev notify.Event) (subject, body string) {
	switch ev.Type {
	case notify.EventPaymentReceived:
		amount := formatAmount(stringData(ev, "currency"), floatData(ev, "amount"))
		reference := stringData(ev, "reference")
		if fullyPaid, _ := ev.Data["fully_paid"].(bool); fullyPaid {
			return fmt.Sprintf("Payment received for %s", reference),
				fmt.Sprintf("We received your payment of %s. Invoice %s is now settled in full.", amount, reference)
		}
		return fmt.Sprintf("Payment received for %s", reference),
			fmt.Sprintf("We received your payment of %s towards invoice %s. A balance remains outstanding.", amount, reference)
	case notify.EventOfferResponse:
		if stringData(ev, "decision") == "ACCEPTED" {
			return "Offer accepted",
				"Thank you for accepting your admission offer. Your tuition invoice will follow shortly."
		}
		return "Offer declined",
			"We have recorded that you declined your admission offer. We wish you well in your studies elsewhere."
	case notify.EventHousingApproved:
		return "Housing application approved",
			"Your housing application has been approved. Room allocation details will follow."
	default:
		return "Notification from Arcadia", fmt.Sprintf("Event: %s", ev.Type)
	}
}

func stringData(ev notify.Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}

func floatData(ev notify.Event, key string) float64 {
	f, _ := ev.Data[key].(float64)
	return f
}

// formatAmount renders a money amount with its currency symbol; unknown codes
// fall back to a plain code-prefixed figure.
func formatAmount(code string, amount float64) string {
	if code == "" {
		code = "USD"
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%s %.2f", code, amount)
	}
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(amount)))
}
