// Package security builds authenticated Google Calendar clients, either from
// a service account or from an OAuth user token kept in Redis.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarScopes covers reading the source, writing the target and reading
// calendar names.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

// ServiceAccount holds the key material of a Google service account. The
// calendars must be shared with Email.
type ServiceAccount struct {
	Email      string
	PrivateKey string
}

// ServiceAccountFromEnv normalizes a key copied into an env var with
// escaped newlines.
func ServiceAccountFromEnv(email, privateKey string) ServiceAccount {
	return ServiceAccount{
		Email:      strings.TrimSpace(email),
		PrivateKey: strings.ReplaceAll(privateKey, `\n`, "\n"),
	}
}

func (sa ServiceAccount) Configured() bool {
	return sa.Email != "" && strings.TrimSpace(sa.PrivateKey) != ""
}

// TokenSource signs JWT assertions with the account key.
func (sa ServiceAccount) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if !sa.Configured() {
		return nil, errors.New("service account email and private key are required")
	}
	cfg := &jwt.Config{
		Email:      sa.Email,
		PrivateKey: []byte(sa.PrivateKey),
		Scopes:     CalendarScopes,
		TokenURL:   google.JWTTokenURL,
	}
	return cfg.TokenSource(ctx), nil
}

// NewCalendarService returns a Calendar API client authenticated by ts.
func NewCalendarService(ctx context.Context, ts oauth2.TokenSource) (*calendar.Service, error) {
	service, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return service, nil
}
