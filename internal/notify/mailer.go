package notify

import (
	"fmt"
	"net/smtp"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Alerter sends staff alerts. Alert never blocks the caller.
type Alerter interface {
	Alert(subject, body string)
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// Mailer delivers alerts over SMTP in the background.
type Mailer struct {
	cfg    SMTPConfig
	logger logrus.FieldLogger
	send   func(e *email.Email) error
	wg     sync.WaitGroup
}

// NewAlerter returns a Mailer, or Noop when SMTP or recipients are not configured.
func NewAlerter(cfg SMTPConfig, logger logrus.FieldLogger) Alerter {
	if cfg.Host == "" || len(cfg.To) == 0 {
		logger.Info("staff alerts disabled: SMTP not configured")
		return Noop{}
	}
	return NewMailer(cfg, logger)
}

func NewMailer(cfg SMTPConfig, logger logrus.FieldLogger) *Mailer {
	m := &Mailer{cfg: cfg, logger: logger}
	m.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return e.Send(addr, auth)
	}
	return m
}

func (m *Mailer) Alert(subject, body string) {
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = append([]string(nil), m.cfg.To...)
	e.Subject = "[reconciler] " + subject
	e.Text = []byte(body)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.send(e); err != nil {
			m.logger.WithError(err).WithField("subject", e.Subject).Error("staff alert not sent")
			return
		}
		m.logger.WithField("subject", e.Subject).Info("staff alert sent")
	}()
}

// Wait blocks until queued alerts are delivered or failed.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

type Noop struct{}

func (Noop) Alert(string, string) {}
