package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"os/exec"
	"time"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// LoginFunc performs one interactive login through the external provisioner,
// leaving a fresh cookie jar on disk.
type LoginFunc func(ctx context.Context) error

// Renewal re-runs the login provisioner on a long fixed interval (daily by
// default) so the cookie jar the token refresher depends on never ages out.
type Renewal struct {
	login    LoginFunc
	jarPath  string
	interval time.Duration
	jitter   time.Duration
	region   string
	log      *logger.Log
}

func NewRenewal(cfg *config.Config) *Renewal {
	return &Renewal{
		login:    commandLogin(cfg.Session.LoginCommand, cfg.Auth.CookiePath, cfg.Region.Name),
		jarPath:  cfg.Auth.CookiePath,
		interval: cfg.Session.RenewalInterval(),
		jitter:   cfg.Session.RenewalJitter(),
		region:   cfg.Region.Name,
		log:      logger.GetLogger(),
	}
}

// Run blocks until the context is cancelled. Login failures are logged and
// the loop keeps going; a worker with stale cookies still has a valid token
// for a while and must not die.
func (r *Renewal) Run(ctx context.Context) {
	log := r.log.WithComponent("session").WithFields(logger.Fields{"region": r.region})

	if r.jarPath != "" {
		if _, err := os.Stat(r.jarPath); errors.Is(err, fs.ErrNotExist) {
			log.Info("no cookie jar found, running initial login")
			if err := r.login(ctx); err != nil {
				log.WithError(err).Error("initial login failed")
			} else {
				log.Info("initial cookies saved")
			}
		}
	}

	for {
		delay := r.nextDelay()
		log.WithFields(logger.Fields{
			"next_at": time.Now().Add(delay).Format(time.RFC3339),
		}).Info("next cookie renewal scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		log.Info("cookie renewal starting")
		if err := r.login(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("cookie renewal failed")
			continue
		}
		log.Info("cookies renewed")
	}
}

func (r *Renewal) nextDelay() time.Duration {
	delay := r.interval
	if r.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(r.jitter)))
	}
	return delay
}

func commandLogin(command []string, cookiePath, region string) LoginFunc {
	return func(ctx context.Context) error {
		if len(command) == 0 {
			return fmt.Errorf("no login command configured")
		}

		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(),
			"COOKIE_PATH="+cookiePath,
			"DEALER_REGION="+region,
		)

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("login command failed: %w", err)
		}
		return nil
	}
}
