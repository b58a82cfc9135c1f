// Package auth drives the two login mechanisms the storefront offers —
// QR-code scan and SMS verification — to a terminal authenticated or
// failed state, producing a validated session for the credential store.
package auth

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/session"
)

type Kind string

const (
	KindQR  Kind = "qrcode"
	KindSMS Kind = "sms"
)

type Login struct {
	sess  *session.Session
	store *session.Store

	viewer   Viewer
	readCode func() (string, error)
	sleep    func(time.Duration)
	phone    string
}

type Option func(*Login)

// WithViewer replaces the QR presentation surface.
func WithViewer(v Viewer) Option {
	return func(l *Login) { l.viewer = v }
}

// WithCodeReader replaces the blocking SMS-code input source.
func WithCodeReader(f func() (string, error)) Option {
	return func(l *Login) { l.readCode = f }
}

// WithPhone sets the fallback phone number used when the caller passes none.
func WithPhone(phone string) Option {
	return func(l *Login) { l.phone = phone }
}

func withSleep(f func(time.Duration)) Option {
	return func(l *Login) { l.sleep = f }
}

func New(sess *session.Session, store *session.Store, opts ...Option) *Login {
	l := &Login{
		sess:     sess,
		store:    store,
		viewer:   noopViewer{},
		readCode: readCodeFromStdin,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Login is the unified entry point. It is idempotent: an already
// authenticated session returns immediately with no network traffic.
// Failure is non-fatal to the process; callers treat it as "not yet
// authenticated" and may retry from the top.
func (l *Login) Login(kind Kind, phone string) bool {
	if l.sess.Authenticated {
		log.Info().Msg("already logged in")
		return true
	}
	switch kind {
	case KindSMS:
		log.Info().Msg("logging in with an SMS code")
		return l.bySMS(phone)
	default:
		log.Info().Msg("logging in with a QR code")
		return l.byQR()
	}
}

func readCodeFromStdin() (string, error) {
	os.Stdout.WriteString("enter the SMS verification code: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
