package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ChannelEmail is the name of the email channel.
const ChannelEmail = "email"

// submitFunc delivers a composed message. It returns once ctx is done.
type submitFunc func(ctx context.Context, a sasl.Client, from string, to []string, r io.Reader) error

// Email sends messages over SMTP submission.
type Email struct {
	addr        string
	username    string
	password    string
	from        *mail.Address
	implicitTLS bool
	tlsConfig   *tls.Config
	dialer      net.Dialer
	submit      submitFunc
	now         func() time.Time
}

// NewEmail creates an email channel. With implicitTLS the connection is
// TLS from the start (port 465); otherwise the server must offer STARTTLS.
func NewEmail(host string, port int, username, password, from string, implicitTLS bool) (*Email, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parsing sender address %q: %w", from, err)
	}

	e := &Email{
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		username:    username,
		password:    password,
		from:        addr,
		implicitTLS: implicitTLS,
		tlsConfig:   &tls.Config{ServerName: host},
		dialer:      net.Dialer{Timeout: 30 * time.Second},
		now:         time.Now,
	}
	e.submit = e.submitSMTP
	return e, nil
}

// Name returns the channel name.
func (e *Email) Name() string { return ChannelEmail }

// Send composes the message and submits it to the SMTP server. When ctx
// is done the connection is closed, so a failed Send never delivers later.
func (e *Email) Send(ctx context.Context, to Recipient, msg Message) Result {
	if to.Email == "" {
		return Failure(ChannelEmail, ErrNoAddress)
	}

	raw, err := e.compose(to, msg)
	if err != nil {
		return Failure(ChannelEmail, err)
	}

	var auth sasl.Client
	if e.username != "" {
		auth = sasl.NewPlainClient("", e.username, e.password)
	}

	if err := e.submit(ctx, auth, e.from.Address, []string{to.Email}, bytes.NewReader(raw)); err != nil {
		return Failure(ChannelEmail, fmt.Errorf("sending mail via %s: %w", e.addr, err))
	}
	return Success(ChannelEmail)
}

// submitSMTP runs one SMTP transaction on a fresh connection.
func (e *Email) submitSMTP(ctx context.Context, a sasl.Client, from string, to []string, r io.Reader) (err error) {
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
	}()

	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}

	// Closing the connection aborts whichever command is blocked on it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var c *smtp.Client
	if e.implicitTLS {
		c = smtp.NewClient(conn)
	} else if c, err = smtp.NewClientStartTLS(conn, e.tlsConfig); err != nil {
		return err
	}
	defer c.Close()

	if deadline, ok := ctx.Deadline(); ok {
		c.CommandTimeout = time.Until(deadline)
		c.SubmissionTimeout = c.CommandTimeout
	}

	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	if err := c.SendMail(from, to, r); err != nil {
		return err
	}

	// The message is accepted once DATA completes.
	_ = c.Quit()
	return nil
}

func (e *Email) dial(ctx context.Context) (net.Conn, error) {
	if e.implicitTLS {
		d := tls.Dialer{NetDialer: &e.dialer, Config: e.tlsConfig}
		return d.DialContext(ctx, "tcp", e.addr)
	}
	return e.dialer.DialContext(ctx, "tcp", e.addr)
}

// compose renders msg as a single part text/plain RFC 5322 message.
func (e *Email) compose(to Recipient, msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(e.now())
	h.SetAddressList("From", []*mail.Address{e.from})
	h.SetAddressList("To", []*mail.Address{{Name: to.Name, Address: to.Email}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}
