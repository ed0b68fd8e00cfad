/*
notify.go - Variance alert delivery

PURPOSE:
  Implementations of budget.Notifier. The classifier calls Notify once
  per line that escalates to CRITICAL; delivery failures are logged by
  the caller and never undo the variance write.

  Email  - SMTP via jordan-wright/email
  Log    - one structured log line per alert
  Multi  - fan-out to several notifiers

SEE ALSO:
  - budget/alert.go: Alert, Notifier
  - config/config.go: NotifyConfig
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
)

// =============================================================================
// EMAIL
// =============================================================================

// sendFunc matches (*email.Email).Send; tests replace it.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Email sends one message per alert to a fixed recipient list.
type Email struct {
	cfg  config.NotifyConfig
	send sendFunc
}

func NewEmail(cfg config.NotifyConfig) *Email {
	return &Email{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (n *Email) Notify(ctx context.Context, alert budget.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = append([]string(nil), n.cfg.To...)
	e.Subject = subject(alert)
	e.Text = []byte(body(alert))

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}
	if err := n.send(e, addr, auth); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

func subject(a budget.Alert) string {
	return fmt.Sprintf("[%s] %s: %s", a.Level, a.BudgetCode, a.LineLabel)
}

func body(a budget.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Message)
	fmt.Fprintf(&b, "Budget:    %s (%s)\n", a.BudgetName, a.BudgetCode)
	fmt.Fprintf(&b, "Line:      %s\n", a.LineLabel)
	fmt.Fprintf(&b, "Budgeted:  %s\n", a.Budgeted.StringFixed(2))
	fmt.Fprintf(&b, "Spent:     %s\n", a.Spent.StringFixed(2))
	fmt.Fprintf(&b, "Utilized:  %s%%\n", a.Percent.StringFixed(1))
	fmt.Fprintf(&b, "Variance:  %s\n", a.VarianceType)
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "As of:     %s\n", a.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}

// =============================================================================
// LOG
// =============================================================================

// Log writes every alert as a warning.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (n *Log) Notify(_ context.Context, a budget.Alert) error {
	n.log.Warn().
		Str("tenant_id", string(a.TenantID)).
		Str("budget_id", string(a.BudgetID)).
		Str("line_id", string(a.LineID)).
		Str("alert_level", string(a.Level)).
		Str("variance_type", string(a.VarianceType)).
		Str("percent", a.Percent.String()).
		Msg(a.Message)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier and joins their errors.
type Multi []budget.Notifier

func (m Multi) Notify(ctx context.Context, a budget.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig returns the log notifier, plus e-mail when SMTP is set up.
func FromConfig(cfg config.NotifyConfig, log zerolog.Logger) budget.Notifier {
	logN := NewLog(log)
	if cfg.SMTPHost == "" {
		return logN
	}
	return Multi{logN, NewEmail(cfg)}
}
