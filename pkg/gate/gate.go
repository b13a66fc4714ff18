package gate

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// Credit response headers attached to gated responses.
const (
	HeaderRemaining = "X-Credits-Remaining"
	HeaderUsed      = "X-Credits-Used"
	HeaderAction    = "X-Credits-Action"
)

// CreditService is the slice of the ledger the gate needs.
type CreditService interface {
	HasSufficientCredits(ctx context.Context, accountID string, action string) (*ledger.SufficiencyCheck, error)
	Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ledger.ConsumeResult, error)
}

// rejectionResponse is the 402 contract clients build upgrade prompts
// from. The field set is frozen; clients depend on it.
type rejectionResponse struct {
	Error           string `json:"error"`
	CurrentCredits  int64  `json:"current_credits"`
	RequiredCredits int64  `json:"required_credits"`
	Action          string `json:"action"`
}

// Gate wraps feature handlers with credit enforcement.
type Gate struct {
	credits CreditService
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a request gate. metrics may be nil in tests.
func New(credits CreditService, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		credits: credits,
		logger:  logger.WithComponent("gate"),
		metrics: metrics,
	}
}

// Option adjusts how a single gated route is enforced.
type Option func(*routeConfig)

type routeConfig struct {
	exempt bool
}

// Exempt marks the route credit-exempt: the handler runs without an
// affordability check and nothing is charged. The action name is kept
// for decision metrics.
func Exempt() Option {
	return func(c *routeConfig) { c.exempt = true }
}

// Require returns middleware enforcing the named action's cost around the
// wrapped handler.
func (g *Gate) Require(action string, opts ...Option) func(http.Handler) http.Handler {
	var cfg routeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.exempt {
				g.decision(action, "exempt")
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, action, next)
		})
	}
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, action string, next http.Handler) {
	ctx := r.Context()
	account := auth.AccountFromContext(ctx)
	if account == nil {
		g.decision(action, "unauthorized")
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}
	log := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"account_id": account.ID,
		"action":     action,
	})

	// Affordability check first: rejecting before the feature runs is
	// the whole point, AI calls are the expensive part.
	check, err := g.credits.HasSufficientCredits(ctx, account.ID, action)
	if err != nil {
		if plans.IsUnknownAction(err) {
			g.decision(action, "rejected")
			httputil.WriteBadRequest(w, "unknown action "+action)
			return
		}
		log.WithError(err).Error("affordability check failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if !check.Sufficient {
		// Inactive subscriptions get a distinct reason so the client can
		// render "reactivate" instead of "upgrade".
		reason := "insufficient_credits"
		if check.Status != ledger.StatusActive {
			reason = "subscription_inactive"
		}
		g.decision(action, "rejected")
		log.WithFields(map[string]interface{}{
			"reason":    reason,
			"required":  check.Required,
			"remaining": check.Remaining,
		}).Info("request rejected")
		g.writeRejection(w, reason, check.Remaining, check.Required, action)
		return
	}

	// Run the feature into a buffer; nothing is charged yet.
	recorder := newResponseRecorder()
	start := time.Now()
	next.ServeHTTP(recorder, r.WithContext(ctx))
	if g.metrics != nil {
		g.metrics.GateFeatureDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}

	if !recorder.success() {
		// Failed work is free work.
		g.decision(action, "allowed")
		recorder.flush(w)
		return
	}

	// The feature finished, so the charge must land even if the client
	// already hung up and net/http canceled the request context.
	chargeCtx := context.WithoutCancel(ctx)
	result, err := g.credits.Consume(chargeCtx, account.ID, action, map[string]string{
		"request_id": observability.GetRequestID(ctx),
		"path":       r.URL.Path,
	})
	if err != nil {
		if ledger.IsInsufficientCredits(err) || ledger.IsInactiveSubscription(err) {
			// A concurrent spend won the race after our check passed.
			// The work is already done, so we deliver it and absorb the
			// cost rather than bill for nothing.
			g.chargeFailed(action, log, err)
			recorder.flush(w)
			return
		}
		g.chargeFailed(action, log, err)
		recorder.flush(w)
		return
	}

	g.decision(action, "allowed")
	recorder.header.Set(HeaderRemaining, strconv.FormatInt(result.Remaining, 10))
	recorder.header.Set(HeaderUsed, strconv.FormatInt(result.Charged, 10))
	recorder.header.Set(HeaderAction, action)
	recorder.flush(w)
}

func (g *Gate) writeRejection(w http.ResponseWriter, reason string, remaining, required int64, action string) {
	httputil.WriteJSON(w, http.StatusPaymentRequired, rejectionResponse{
		Error:           reason,
		CurrentCredits:  remaining,
		RequiredCredits: required,
		Action:          action,
	})
}

func (g *Gate) chargeFailed(action string, log *observability.Logger, err error) {
	log.WithError(err).Error("charging after successful feature call failed, delivering uncharged")
	if g.metrics != nil {
		g.metrics.GateChargeFailures.Inc()
		g.metrics.GateDecisionsTotal.WithLabelValues(action, "allowed").Inc()
	}
}

func (g *Gate) decision(action, decision string) {
	if g.metrics != nil {
		g.metrics.GateDecisionsTotal.WithLabelValues(action, decision).Inc()
	}
}
