package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/storage"
)

const (
	// How far ahead of expiry a credential is considered due for refresh.
	defaultLookahead = 10 * time.Minute
	defaultBatchSize = 100
	perUserTimeout   = 30 * time.Second
)

// TokenRefresher is the slice of the token manager the sweeper needs. A
// refresh happens as a side effect of asking for a valid token.
type TokenRefresher interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Sweeper proactively refreshes access tokens that are about to expire so
// interactive requests rarely pay the refresh latency. Per-user locking in
// the token manager keeps concurrent sweeps from doubling up on refreshes.
type Sweeper struct {
	store     storage.Storage
	tokens    TokenRefresher
	schedule  string
	lookahead time.Duration
	batchSize int
	cron      *cron.Cron
	logger    logging.Logger
}

func NewSweeper(store storage.Storage, tokens TokenRefresher, schedule string, logger logging.Logger) (*Sweeper, error) {
	if schedule == "" {
		return nil, errors.ConfigError("refresh sweep schedule is required")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid refresh sweep schedule %q: %v", schedule, err))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		store:     store,
		tokens:    tokens,
		schedule:  schedule,
		lookahead: defaultLookahead,
		batchSize: defaultBatchSize,
		logger:    logger,
	}, nil
}

// Start schedules the sweep. It returns once the scheduler is running.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule refresh sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("refresh sweeper started", logging.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("refresh sweeper stopped")
}

// Sweep refreshes every active credential whose access token expires inside
// the lookahead window. Failures are logged and do not stop the batch; a
// dead refresh token has already been recorded on the credential by the
// token manager.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(s.lookahead)
	creds, err := s.store.ListExpiringCredentials(cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("refresh sweep failed to list expiring credentials", err)
		return
	}
	if len(creds) == 0 {
		return
	}

	s.logger.Info("refresh sweep starting", logging.Int("credentials", len(creds)))

	refreshed := 0
	for _, cred := range creds {
		ctx, cancel := context.WithTimeout(context.Background(), perUserTimeout)
		_, err := s.tokens.GetValidAccessToken(ctx, cred.UserID)
		cancel()
		if err != nil {
			s.logger.Warn("refresh sweep failed for user",
				logging.String("user_id", cred.UserID),
				logging.Err(err))
			continue
		}
		refreshed++
	}

	s.logger.Info("refresh sweep finished",
		logging.Int("refreshed", refreshed),
		logging.Int("failed", len(creds)-refreshed))
}
