package auth

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// Refresher obtains a new session and rewrites the token file. The production
// implementation shells out to the browser-automation provisioner; tests
// substitute their own.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// CommandRefresher runs an external command that is expected to overwrite the
// token file with a freshly obtained bearer token.
type CommandRefresher struct {
	command    []string
	tokenPath  string
	cookiePath string
	region     string
	log        *logger.Log
}

func NewCommandRefresher(command []string, tokenPath, cookiePath, region string) *CommandRefresher {
	return &CommandRefresher{
		command:    command,
		tokenPath:  tokenPath,
		cookiePath: cookiePath,
		region:     region,
		log:        logger.GetLogger(),
	}
}

func (r *CommandRefresher) Refresh(ctx context.Context) error {
	if len(r.command) == 0 {
		return fmt.Errorf("no refresh command configured")
	}

	log := r.log.WithComponent("refresher").WithFields(logger.Fields{"command": r.command[0]})

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"TOKEN_PATH="+r.tokenPath,
		"COOKIE_PATH="+r.cookiePath,
		"DEALER_REGION="+r.region,
	)

	log.Info("running session refresh")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("session refresh command failed: %w", err)
	}
	return nil
}
