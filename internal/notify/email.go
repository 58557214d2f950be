package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// SMTPConfig — параметры почтового сервера и получателя.
type SMTPConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	FromName    string
	To          []string
}

// Addr возвращает host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EmailOptions — какие события, кроме ошибок рендеринга, отправлять письмом.
type EmailOptions struct {
	OnInvoice      bool
	OnPrintFailure bool
	ShopName       string
}

const defaultSMTPTimeout = 30 * time.Second

type sendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Email отправляет письма через SMTP. Ошибки рендеринга отправляются всегда.
// Повторяющиеся сбои SMTP размыкают circuit breaker, и письма на время отбрасываются.
type Email struct {
	cfg     SMTPConfig
	opts    EmailOptions
	send    sendFunc
	breaker *gobreaker.CircuitBreaker[any]
	now     func() time.Time
}

// NewEmail создаёт почтовый канал.
func NewEmail(cfg SMTPConfig, opts EmailOptions) *Email {
	return &Email{
		cfg:  cfg,
		opts: opts,
		send: sendMail,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		now: time.Now,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Accepts(kind domain.EventKind) bool {
	switch kind {
	case domain.EventRenderFailed:
		return true
	case domain.EventInvoiceReady:
		return e.opts.OnInvoice
	case domain.EventPrintFailed:
		return e.opts.OnPrintFailure
	default:
		return false
	}
}

// BreakerState возвращает состояние circuit breaker для диагностики.
func (e *Email) BreakerState() string {
	return e.breaker.State().String()
}

func (e *Email) Notify(ctx context.Context, event domain.Event) error {
	subject, body := emailText(e.opts.ShopName, event)

	var attachment string
	if event.Kind == domain.EventInvoiceReady {
		attachment = event.ArtifactPath
	}
	return e.deliver(ctx, subject, body, attachment)
}

// SendDigest отправляет сводку за период.
func (e *Email) SendDigest(ctx context.Context, subject, body string) error {
	return e.deliver(ctx, subject, body, "")
}

func (e *Email) deliver(ctx context.Context, subject, body, attachment string) error {
	if len(e.cfg.To) == 0 {
		return errors.New("email recipient is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := e.buildMessage(subject, body, attachment)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.User != "" && e.cfg.Password != "" {
		auth = smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Host)
	}

	_, err = e.breaker.Execute(func() (any, error) {
		return nil, e.send(ctx, e.cfg.Addr(), auth, e.cfg.FromAddress, e.cfg.To, msg)
	})
	if err != nil {
		return fmt.Errorf("send email %q: %w", subject, err)
	}
	return nil
}

func (e *Email) buildMessage(subject, body, attachment string) ([]byte, error) {
	from := e.cfg.FromAddress
	if e.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", e.cfg.FromName), e.cfg.FromAddress)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", writer.Boundary())

	textPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}

	if attachment != "" {
		data, err := os.ReadFile(attachment)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		name := filepath.Base(attachment)
		filePart, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("application/pdf; name=%q", name)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if err := writeBase64Lines(filePart, data); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

// sendMail повторяет smtp.SendMail, но соединение живёт не дольше ctx:
// дедлайн ставится на сокет, а отмена закрывает его. Сервер, который принял
// соединение и молчит, не держит вызывающего дольше таймаута канала.
func sendMail(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) (err error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSMTPTimeout)
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set smtp deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() {
		if err != nil {
			_ = client.Close()
		}
	}()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err = client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err = client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err = client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return client.Quit()
}

// writeBase64Lines пишет base64 строками по 76 символов.
func writeBase64Lines(w interface{ Write([]byte) (int, error) }, data []byte) error {
	const lineLen = 76
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(lineLen, len(encoded))
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

func emailText(shop string, event domain.Event) (string, string) {
	prefix := "[Invoicer]"
	if shop != "" {
		prefix = "[" + shop + "]"
	}
	customer := event.Order.Customer.DisplayName()

	switch event.Kind {
	case domain.EventRenderFailed:
		return fmt.Sprintf("%s Invoice for order %s failed", prefix, event.OrderNumber),
			fmt.Sprintf("The invoice for order %s (%s) could not be generated.\n\nError: %s\n\n"+
				"The order was not marked as processed and will be retried on the next cycle "+
				"while it stays in the fetch window.\n", event.OrderNumber, customer, event.ErrorText())
	case domain.EventPrintFailed:
		return fmt.Sprintf("%s Printing order %s failed", prefix, event.OrderNumber),
			fmt.Sprintf("The invoice for order %s was generated at %s but could not be printed.\n\nError: %s\n",
				event.OrderNumber, event.ArtifactPath, event.ErrorText())
	case domain.EventInvoiceReady:
		return fmt.Sprintf("%s Invoice for order %s", prefix, event.OrderNumber),
			fmt.Sprintf("The invoice for order %s (%s) is attached.\n", event.OrderNumber, customer)
	default:
		return fmt.Sprintf("%s Order %s: %s", prefix, event.OrderNumber, event.Kind), ""
	}
}
