package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/bakkerme/filepoll/internal/outputs/email"
	mail "github.com/wneessen/go-mail"
)

// TLSMode determines how the SMTP client negotiates TLS.
type TLSMode string

const (
	// TLSModeAuto picks implicit TLS on 465 and STARTTLS elsewhere.
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "implicit"
)

// Config is the connection configuration for a Sender.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

type Sender struct {
	config Config
}

// NewSender validates cfg and returns an SMTP sender. The TLS mode is
// resolved eagerly so a typo fails at startup instead of on the first poll
// that finds something.
func NewSender(cfg Config) (*Sender, error) {
	if err := ValidateConfig(cfg.Host, cfg.Port); err != nil {
		return nil, err
	}
	if _, err := parseTLSMode(cfg.TLSMode); err != nil {
		return nil, err
	}
	return &Sender{config: cfg}, nil
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if message.From == "" {
		message.From = s.config.Username
	}
	msg, err := buildMessage(message)
	if err != nil {
		return err
	}

	err = s.dialAndSend(ctx, msg, s.config.Username != "")
	if err == nil {
		return nil
	}
	// Local sinks such as mailpit reject AUTH; credentials from a shared
	// environment should not stop delivery there.
	if s.config.Username != "" && isAuthUnsupported(err) && isLocalDevSMTPHost(s.config.Host) {
		if retryErr := s.dialAndSend(ctx, msg, false); retryErr == nil {
			return nil
		}
	}
	return err
}

func (s *Sender) dialAndSend(ctx context.Context, msg *mail.Msg, withAuth bool) error {
	opts, err := s.clientOptions(withAuth)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *Sender) clientOptions(withAuth bool) ([]mail.Option, error) {
	mode, err := s.resolveTLSMode()
	if err != nil {
		return nil, err
	}
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         s.config.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.config.InsecureSkipVerify,
		}),
	}
	switch mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeStartTLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	default:
		return nil, fmt.Errorf("unsupported smtp tls mode %q", mode)
	}
	if withAuth {
		opts = append(opts,
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts, nil
}

func buildMessage(message email.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(message.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", message.From, err)
	}
	if err := m.EnvelopeFrom(message.From); err != nil {
		return nil, fmt.Errorf("invalid envelope from address %q: %w", message.From, err)
	}
	if err := m.ToFromString(message.To); err != nil {
		return nil, fmt.Errorf("invalid to address(es) %q: %w", message.To, err)
	}
	m.Subject(message.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, message.Body)
	if message.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, message.Text)
	}
	keys := make([]string, 0, len(message.Headers))
	for k := range message.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetGenHeader(mail.Header(k), message.Headers[k])
	}
	return m, nil
}

func (s *Sender) resolveTLSMode() (TLSMode, error) {
	mode, err := parseTLSMode(s.config.TLSMode)
	if err != nil {
		return "", err
	}
	if mode != TLSModeAuto {
		return mode, nil
	}
	if s.config.Port == 465 {
		return TLSModeImplicit, nil
	}
	return TLSModeStartTLS, nil
}

func parseTLSMode(mode string) (TLSMode, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "auto":
		return TLSModeAuto, nil
	case "disabled", "off", "none":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "smtptls", "smtp_tls":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid smtp tls mode %q (expected auto, disabled, starttls or implicit)", mode)
	}
}

func ValidateConfig(host string, port int) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("smtp host is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("smtp port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func isAuthUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "server does not support SMTP AUTH") ||
		strings.Contains(msg, "SMTP Auth autodiscover was not able to detect a supported authentication mechanism")
}

func isLocalDevSMTPHost(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	switch host {
	case "":
		return false
	case "localhost", "mailpit":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
