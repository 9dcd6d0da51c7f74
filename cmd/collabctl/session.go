package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/charlesng35/sectionlock/internal/client"
)

// openDocument starts a session and coordinator for documentID. The returned
// channel yields the session's exit error.
func openDocument(ctx context.Context, documentID string) (*client.Session, *client.Coordinator, <-chan error, error) {
	token := strings.TrimSpace(viper.GetString("token"))
	if token == "" {
		return nil, nil, nil, errors.New("an access token is required: pass --token or set SECTIONLOCK_TOKEN")
	}

	session, err := client.NewSession(client.SessionConfig{
		BaseURL:    viper.GetString("server"),
		DocumentID: documentID,
		Token:      token,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	coordinator := client.NewCoordinator(session)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
	}()
	go func() {
		_ = coordinator.Run(ctx, session.Inbound(), session.States())
	}()
	return session, coordinator, done, nil
}

func sessionResult(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
