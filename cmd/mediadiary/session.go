package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/config"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/docclient"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/library"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/logging"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/offline"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/validation"
)

// withSession signs in as the configured user and runs fn. Closing the session flushes
// the offline snapshot; the cache is left intact so the snapshot keeps the latest state.
func (c *cli) withSession(cmd *cobra.Command, fn func(ctx context.Context, session *library.Session) error) error {
	clientConfig, err := config.LoadClient(c.viper)
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := docclient.New(docclient.Config{
		BaseURL: clientConfig.APIBaseURL,
		Token:   clientConfig.APIToken,
		Timeout: clientConfig.APITimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	snapshots, err := offline.Open(offline.Config{Path: clientConfig.OfflinePath, Logger: logger})
	if err != nil {
		return fmt.Errorf("open offline snapshots: %w", err)
	}
	defer func() {
		if closeErr := snapshots.Close(); closeErr != nil {
			logger.Warn("offline snapshot store close failed", zap.Error(closeErr))
		}
	}()

	session, err := library.NewSession(library.SessionConfig{
		Store:      store,
		Offline:    snapshots,
		Validator:  validation.New(),
		IDProvider: library.NewPlaceholderIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := session.SignIn(ctx, clientConfig.UserID); err != nil {
		if !errors.Is(err, library.ErrPartialLoad) {
			return err
		}
		status := session.Status()
		if status.Degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: document API unreachable, using offline snapshot")
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not load %v\n", status.Stale)
		}
	}

	return fn(ctx, session)
}
