package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTime       = errors.New("invalid time value")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrEmptyCommand      = errors.New("empty command")
	ErrWrongArity        = errors.New("wrong number of arguments")
	ErrInvalidCredential = errors.New("username and password are required")
	ErrEmptyToken        = errors.New("remote returned an empty session token")
	ErrNotAuthenticated  = errors.New("user not authenticated")
	ErrDaemonNotRunning  = errors.New("kimaid daemon is not running")
	ErrDaemonStartFailed = errors.New("kimaid daemon start failed")
	ErrCorruptPrefs      = errors.New("preferences file is corrupt")
)

type Field string

const (
	FieldStart    Field = "start"
	FieldDuration Field = "duration"
	FieldTrigger  Field = "trigger"
)

type TimeFormatError struct {
	Field Field
	Err   error
}

func (e *TimeFormatError) Error() string {
	return fmt.Sprintf("wrong time format for [%s]: %v", e.Field, e.Err)
}

func (e *TimeFormatError) Unwrap() error {
	return e.Err
}

type AuthState string

const (
	AuthLoggedOut      AuthState = "logged_out"
	AuthAuthenticating AuthState = "authenticating"
	AuthAuthenticated  AuthState = "authenticated"
	AuthFailed         AuthState = "auth_failed"
)

// Session is the in-memory authentication state. Its methods are the only
// transitions, so Authenticated always carries a token and credentials.
type Session struct {
	Credentials *Credentials
	State       AuthState
	Token       string
	RetryCount  int
}

func NewSession() Session {
	return Session{State: AuthLoggedOut}
}

// Remember keeps credentials without attempting authentication.
func (s *Session) Remember(creds Credentials) {
	c := creds
	s.Credentials = &c
}

func (s *Session) BeginAuth() error {
	if s.Credentials == nil {
		return ErrInvalidCredential
	}
	s.State = AuthAuthenticating
	s.Token = ""
	return nil
}

func (s *Session) Authenticated(token string) error {
	if s.Credentials == nil {
		return ErrInvalidCredential
	}
	if token == "" {
		return ErrEmptyToken
	}
	s.State = AuthAuthenticated
	s.Token = token
	s.RetryCount = 0
	return nil
}

// AuthFailed records a failed authentication attempt.
func (s *Session) AuthFailed() {
	s.State = AuthFailed
	s.Token = ""
	s.RetryCount++
}

// Expire drops the token after a failed submission; the next tick re-authenticates.
func (s *Session) Expire() {
	s.State = AuthFailed
	s.Token = ""
}

// Drop leaves the session logged out but keeps remembered credentials.
func (s *Session) Drop() {
	s.State = AuthLoggedOut
	s.Token = ""
	s.RetryCount = 0
}

func (s *Session) Reset() {
	*s = NewSession()
}

func (s Session) IsAuthenticated() bool {
	return s.State == AuthAuthenticated && s.Token != "" && s.Credentials != nil
}

func (s Session) Username() string {
	if s.Credentials == nil {
		return ""
	}
	return s.Credentials.Username
}
