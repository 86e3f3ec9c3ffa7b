package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// TokenSource returns the worker's current bearer token. It is read once per
// request attempt so a token rotated mid-claim is honoured by the 401 retry.
type TokenSource func() string

// Result is the terminal outcome of one logical claim call. A zero Status
// means no response was received at all.
type Result struct {
	Success bool          `json:"success"`
	Status  int           `json:"status"`
	Latency time.Duration `json:"latency"`
}

type claimRequest struct {
	OpportunityID string `json:"opportunityId"`
	DealerID      int64  `json:"dealerId"`
}

// Coordinator races claim requests against the opportunity endpoint. A 409
// means another worker won; that is a normal outcome, not a fault.
type Coordinator struct {
	endpoint string
	dealerID int64
	region   string
	tokens   TokenSource
	client   *http.Client
	limiter  *rate.Limiter
	log      *logger.Log
}

func NewCoordinator(cfg *config.Config, tokens TokenSource) *Coordinator {
	var limiter *rate.Limiter
	if cfg.API.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.API.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.API.RateLimit.RequestsPerSecond), burst)
	}

	return &Coordinator{
		endpoint: cfg.API.Root + "/Opportunity/Claim",
		dealerID: cfg.Region.DealerID,
		region:   cfg.Region.Name,
		tokens:   tokens,
		client: &http.Client{
			Timeout: cfg.API.ClaimTimeout(),
		},
		limiter: limiter,
		log:     logger.GetLogger(),
	}
}

// Claim submits one claim for the opportunity. A 401 response is retried
// exactly once with a freshly read token; every other response is terminal.
// Latency covers the whole logical call including the retry.
func (c *Coordinator) Claim(ctx context.Context, opportunityID string) Result {
	attemptID := uuid.NewString()
	log := c.log.WithComponent("claim").WithFields(logger.Fields{
		"region":         c.region,
		"opportunity_id": opportunityID,
		"attempt_id":     attemptID,
	})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			log.WithError(err).Warn("claim abandoned while waiting for rate limiter")
			return Result{Success: false, Status: 0}
		}
	}

	start := time.Now()

	status, err := c.post(ctx, opportunityID, attemptID)
	if err != nil {
		res := Result{Success: false, Status: 0, Latency: time.Since(start)}
		log.WithError(err).WithField("latency_ms", res.Latency.Milliseconds()).Warn("claim network error")
		logger.IncrementClaimFailure()
		return res
	}

	if status == http.StatusUnauthorized {
		log.Warn("401 on claim, token may be rotating; retrying once")
		if retryStatus, retryErr := c.post(ctx, opportunityID, attemptID); retryErr == nil {
			status = retryStatus
		}
		// A failed retry transport falls through and reports the original 401.
	}

	res := Result{
		Success: status >= 200 && status < 300,
		Status:  status,
		Latency: time.Since(start),
	}
	c.report(log, opportunityID, res)
	return res
}

func (c *Coordinator) post(ctx context.Context, opportunityID, attemptID string) (int, error) {
	body, err := json.Marshal(claimRequest{OpportunityID: opportunityID, DealerID: c.dealerID})
	if err != nil {
		return 0, fmt.Errorf("failed to encode claim body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens())
	req.Header.Set("X-Request-Id", attemptID)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *Coordinator) report(log *logger.Entry, opportunityID string, res Result) {
	fields := logger.Fields{"status": res.Status, "latency_ms": res.Latency.Milliseconds()}

	switch {
	case res.Success:
		logger.IncrementClaimWon()
		log.WithFields(fields).Info("claimed opportunity")
	case res.Status == http.StatusConflict:
		// Losing the race is the expected outcome, not a failure.
		logger.IncrementClaimLost()
		log.WithFields(fields).Info("opportunity already claimed")
	default:
		logger.IncrementClaimFailure()
		log.WithFields(fields).Warn("claim rejected")
	}
}
