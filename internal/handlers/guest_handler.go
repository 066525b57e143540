package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/idempotency"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
	"github.com/imrishuroy/go-guest-lookup/internal/metrics"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
	"github.com/imrishuroy/go-guest-lookup/internal/sessions"
	"github.com/imrishuroy/go-guest-lookup/internal/validation"
)

// SessionHeader carries the lookup session id in both directions.
const SessionHeader = "X-Lookup-Session"

// HandlerConfig groups dependencies for the guest lookup handler.
type HandlerConfig struct {
	Backend          lookup.Backend
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI // optional
	SessionsTable    string
	IdempotencyTable string
	ActionsTable     string
	QueueURL         string
	MetricsNamespace string
	SessionTTL       time.Duration
	TTLWindow        time.Duration
	Lookup           lookup.Config
}

type guestHandler struct {
	cfg       HandlerConfig
	validate  *validatorv10.Validate
	sessions  *sessions.Store
	idem      *idempotency.Store
	ledger    *orders.Store
	publisher *aws.Publisher
}

// guestCtx is the per-request view of one stored session.
type guestCtx struct {
	id      string
	version int64
	sess    *lookup.Session
	events  *metrics.Recorder
}

// opFunc runs one guest operation. A zero status means the response was already written.
type opFunc func(c *gin.Context, g *guestCtx) (int, interface{}, error)

// rawJSON is a response body that is already encoded.
type rawJSON []byte

// RegisterGuestRoutes registers the guest lookup routes under /guest.
func RegisterGuestRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &guestHandler{
		cfg:       cfg,
		validate:  validation.New(),
		sessions:  sessions.NewStore(cfg.DynamoDBClient, cfg.SessionsTable, cfg.SessionTTL),
		idem:      idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow),
		ledger:    orders.NewStore(cfg.DynamoDBClient, cfg.ActionsTable),
		publisher: aws.NewPublisher(cfg.SQSClient, cfg.QueueURL),
	}

	g := r.Group("/guest")
	g.GET("/session", h.handle(h.getSession))
	g.POST("/challenge/refresh", h.handle(h.refreshChallenge))
	g.POST("/request-code", h.handle(h.requestCode))
	g.POST("/resend", h.handle(h.resendCode))
	g.POST("/verify", h.handle(h.verifyCode))
	g.POST("/new-lookup", h.handle(h.newLookup))
	g.POST("/back", h.handle(h.back))

	g.GET("/orders", h.handle(h.listOrders))
	g.GET("/orders/:number", h.handle(h.getOrder))
	g.GET("/orders/:number/permissions", h.handle(h.permissions))
	g.GET("/orders/:number/tracking", h.handle(h.tracking))
	g.GET("/orders/:number/reviews/:productId", h.handle(h.reviewEligibility))

	g.POST("/orders/:number/cancel", h.handle(h.cancel))
	g.POST("/orders/:number/refund", h.handle(h.refund))
	g.PUT("/orders/:number/address", h.handle(h.updateAddress))
	g.PUT("/orders/:number/customer-info", h.handle(h.updateCustomerInfo))
	g.POST("/orders/:number/reviews", h.handle(h.submitReview))
}

// handle loads the session, runs op, saves the session and writes the result.
func (h *guestHandler) handle(op opFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		g, err := h.load(ctx, c.GetHeader(SessionHeader))
		if err != nil {
			log.Printf("[handlers] load session: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session_load_failed"})
			return
		}
		c.Header(SessionHeader, g.id)
		defer g.sess.Close()

		status, body, opErr := op(c, g)

		g.sess.Wait()
		if _, err := h.sessions.Save(ctx, g.id, g.version, g.sess.Snapshot()); err != nil {
			if errors.Is(err, sessions.ErrVersionConflict) {
				if !c.Writer.Written() {
					c.JSON(http.StatusConflict, gin.H{"error": "SESSION_CONFLICT", "message": "the lookup changed in another request, reload and retry"})
				}
				return
			}
			log.Printf("[handlers] save session %s: %v", g.id, err)
			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session_save_failed"})
			}
			return
		}
		if g.events != nil {
			if err := g.events.Flush(ctx); err != nil {
				log.Printf("[handlers] flush metrics: %v", err)
			}
		}

		switch {
		case c.Writer.Written():
		case opErr != nil:
			writeError(c, opErr, g.sess.State())
		case status == 0:
		default:
			if raw, ok := body.(rawJSON); ok {
				c.Data(status, "application/json", raw)
				return
			}
			c.JSON(status, body)
		}
	}
}

func (h *guestHandler) load(ctx context.Context, id string) (*guestCtx, error) {
	g := &guestCtx{}
	cfg := h.cfg.Lookup
	if h.cfg.CloudWatchClient != nil {
		g.events = metrics.NewRecorder(h.cfg.CloudWatchClient, h.cfg.MetricsNamespace)
		cfg.Events = g.events
	}

	if id != "" {
		rec, err := h.sessions.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			g.id, g.version = id, rec.Version
			g.sess = lookup.Restore(h.cfg.Backend, cfg, rec.Snapshot)
			return g, nil
		}
	}
	g.id = sessions.NewID()
	g.sess = lookup.NewSession(h.cfg.Backend, cfg)
	return g, nil
}

type sessionView struct {
	State           lookup.State          `json:"state"`
	Email           string                `json:"email,omitempty"`
	Puzzle          string                `json:"puzzle,omitempty"`
	CooldownSeconds int                   `json:"cooldown_seconds,omitempty"`
	AttemptsLeft    int                   `json:"attempts_left,omitempty"`
	Orders          []orders.OrderSummary `json:"orders,omitempty"`
}

func viewOf(s *lookup.Session) sessionView {
	v := sessionView{State: s.State(), Email: s.Email(), Orders: s.Orders()}
	switch v.State {
	case lookup.StateRequest:
		v.Puzzle = s.Puzzle()
	case lookup.StateVerify:
		v.CooldownSeconds = s.CooldownRemaining()
		v.AttemptsLeft = s.AttemptsLeft()
	}
	return v
}

func (h *guestHandler) getSession(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) refreshChallenge(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	return http.StatusOK, gin.H{"puzzle": g.sess.RefreshChallenge()}, nil
}

func (h *guestHandler) requestCode(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.RequestCodeRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	if err := g.sess.RequestCode(c.Request.Context(), req.Email, req.Captcha); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) resendCode(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if err := g.sess.ResendCode(c.Request.Context()); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) verifyCode(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.VerifyCodeRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	if err := g.sess.VerifyCode(c.Request.Context(), req.Code); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) newLookup(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	g.sess.NewLookup()
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) back(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if err := g.sess.Back(); err != nil {
		return 0, nil, err
	}
	if err := g.sess.RefreshOrders(c.Request.Context()); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewOf(g.sess), nil
}

func (h *guestHandler) listOrders(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if err := g.sess.RefreshOrders(c.Request.Context()); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, viewOf(g.sess), nil
}

type detailView struct {
	Order       *orders.OrderDetail  `json:"order"`
	Permissions lookup.Permissions   `json:"permissions"`
	Tracking    *orders.TrackingInfo `json:"tracking,omitempty"`
}

// openOrder makes number the open order, fetching it unless it is already loaded.
func (h *guestHandler) openOrder(ctx context.Context, g *guestCtx, number string) error {
	if d := g.sess.Selected(); d != nil && d.OrderNumber == number {
		return nil
	}
	_, err := g.sess.SelectOrder(ctx, number)
	return err
}

func (h *guestHandler) detail(g *guestCtx) (int, interface{}, error) {
	p, err := g.sess.PermittedActions()
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, detailView{Order: g.sess.Selected(), Permissions: p, Tracking: g.sess.Tracking()}, nil
}

func (h *guestHandler) getOrder(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if _, err := g.sess.SelectOrder(c.Request.Context(), c.Param("number")); err != nil {
		return 0, nil, err
	}
	return h.detail(g)
}

func (h *guestHandler) permissions(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if err := h.openOrder(c.Request.Context(), g, c.Param("number")); err != nil {
		return 0, nil, err
	}
	p, err := g.sess.PermittedActions()
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, p, nil
}

func (h *guestHandler) tracking(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	ctx := c.Request.Context()
	if err := h.openOrder(ctx, g, c.Param("number")); err != nil {
		return 0, nil, err
	}
	info, err := g.sess.RefreshTracking(ctx)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"order_number": c.Param("number"), "tracking": info}, nil
}

func (h *guestHandler) reviewEligibility(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	if err := h.openOrder(c.Request.Context(), g, c.Param("number")); err != nil {
		return 0, nil, err
	}
	productID := c.Param("productId")
	if err := g.sess.CanReview(productID); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"product_id": productID, "can_review": true}, nil
}

func (h *guestHandler) cancel(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.ReasonRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	return h.mutate(c, g, lookup.ActionCancelOrder, req.Reason, func(ctx context.Context) error {
		return g.sess.CancelOrder(ctx, req.Reason)
	})
}

func (h *guestHandler) refund(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.ReasonRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	return h.mutate(c, g, lookup.ActionRequestRefund, req.Reason, func(ctx context.Context) error {
		return g.sess.RequestRefund(ctx, req.Reason)
	})
}

func (h *guestHandler) updateAddress(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.AddressRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	return h.mutate(c, g, lookup.ActionUpdateAddress, "city="+req.City, func(ctx context.Context) error {
		return g.sess.UpdateAddress(ctx, req.ToAddress())
	})
}

func (h *guestHandler) updateCustomerInfo(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.CustomerInfoRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	return h.mutate(c, g, lookup.ActionUpdateCustomerInfo, "", func(ctx context.Context) error {
		return g.sess.UpdateCustomerInfo(ctx, req.ToCustomerInfo())
	})
}

func (h *guestHandler) submitReview(c *gin.Context, g *guestCtx) (int, interface{}, error) {
	var req validation.ReviewRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return 0, nil, nil
	}
	review, err := req.ToReview()
	if err != nil {
		return http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()}, nil
	}
	detail := fmt.Sprintf("product=%s rating=%d", review.ProductID, review.Rating)
	return h.mutate(c, g, lookup.ActionSubmitReview, detail, func(ctx context.Context) error {
		return g.sess.SubmitReview(ctx, review)
	})
}

// mutate runs a guest mutation under the Idempotency-Key protocol:
// a repeated key replays the stored response, a key still in progress gets
// 202, and a failed attempt may be retried with the same key.
// Successful mutations are written to the action ledger and published for the worker.
func (h *guestHandler) mutate(c *gin.Context, g *guestCtx, action lookup.Action, detail string, run func(ctx context.Context) error) (int, interface{}, error) {
	ctx := c.Request.Context()
	number := c.Param("number")

	clientKey := c.GetHeader("Idempotency-Key")
	if clientKey == "" {
		return http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"}, nil
	}
	key := idempotency.ScopedKey(g.id, clientKey)

	created, err := h.idem.CreateIfNotExists(ctx, key, number, string(action))
	if err != nil {
		return http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()}, nil
	}
	if !created {
		rec, err := h.idem.Get(ctx, key)
		if err != nil {
			return http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()}, nil
		}
		if rec == nil {
			return http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"}, nil
		}
		if rec.OrderNumber != number || rec.Action != string(action) {
			return http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "order_number": rec.OrderNumber, "action": rec.Action}, nil
		}
		switch rec.Status {
		case idempotency.StatusDone:
			if rec.ResponseBody != "" {
				return rec.ResponseStatus, rawJSON(rec.ResponseBody), nil
			}
			return http.StatusOK, gin.H{"order_number": rec.OrderNumber, "action": rec.Action}, nil
		case idempotency.StatusInProgress:
			return http.StatusAccepted, gin.H{"message": "request already in progress", "order_number": rec.OrderNumber}, nil
		case idempotency.StatusFailed:
			if err := h.idem.Reclaim(ctx, key); err != nil {
				if errors.Is(err, idempotency.ErrConditionFailed) {
					return http.StatusAccepted, gin.H{"message": "request already in progress", "order_number": rec.OrderNumber}, nil
				}
				return http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()}, nil
			}
		default:
			return http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"}, nil
		}
	}

	// always act on the freshest order state
	email := g.sess.Email()
	_, err = g.sess.SelectOrder(ctx, number)
	if err == nil {
		err = run(ctx)
	}
	if err != nil {
		if mErr := h.idem.MarkFailed(ctx, key, err.Error()); mErr != nil {
			log.Printf("[handlers] mark failed %s: %v", key, mErr)
		}
		return 0, nil, err
	}

	body := gin.H{"order_number": number, "action": action}
	if d := g.sess.Selected(); d != nil {
		body["status"] = d.Status
	}
	if p, err := g.sess.PermittedActions(); err == nil {
		body["permissions"] = p
	}
	resp, _ := json.Marshal(body)

	rec := orders.ActionRecord{
		ActionID:    uuid.NewString(),
		OrderNumber: number,
		Email:       email,
		Action:      string(action),
		Detail:      detail,
	}
	if err := h.ledger.RecordWithIdempotency(ctx, h.cfg.IdempotencyTable, key, rec, string(resp), http.StatusOK); err != nil {
		log.Printf("[handlers] record action %s for order %s: %v", action, number, err)
		if mErr := h.idem.MarkDone(ctx, key, string(resp), http.StatusOK); mErr != nil {
			log.Printf("[handlers] mark done %s: %v", key, mErr)
		}
		return http.StatusOK, rawJSON(resp), nil
	}

	ev := orders.ActionEvent{
		ActionID:       rec.ActionID,
		OrderNumber:    number,
		Action:         string(action),
		IdempotencyKey: key,
		CorrelationID:  c.GetHeader("X-Request-Id"),
	}
	attrs := map[string]string{
		"action":         string(action),
		"order_number":   number,
		"correlation_id": ev.CorrelationID,
	}
	if err := h.publisher.SendJSON(ctx, ev, attrs); err != nil {
		log.Printf("[handlers] publish action %s: %v", rec.ActionID, err)
	}
	return http.StatusOK, rawJSON(resp), nil
}

var kindStatus = map[lookup.Kind]int{
	lookup.KindChallengeFailed:    http.StatusBadRequest,
	lookup.KindInvalidEmail:       http.StatusBadRequest,
	lookup.KindInvalidCode:        http.StatusBadRequest,
	lookup.KindInvalidRating:      http.StatusBadRequest,
	lookup.KindInvalidReview:      http.StatusBadRequest,
	lookup.KindCooldownActive:     http.StatusTooManyRequests,
	lookup.KindCodeRequestFailed:  http.StatusBadGateway,
	lookup.KindLookupFailed:       http.StatusBadGateway,
	lookup.KindActionFailed:       http.StatusBadGateway,
	lookup.KindTokenRejected:      http.StatusUnauthorized,
	lookup.KindActionNotPermitted: http.StatusForbidden,
	lookup.KindAlreadyReviewed:    http.StatusConflict,
	lookup.KindInvalidState:       http.StatusConflict,
}

func writeError(c *gin.Context, err error, state lookup.State) {
	var le *lookup.Error
	if !errors.As(err, &le) {
		log.Printf("[handlers] unexpected error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	status, ok := kindStatus[le.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": le.Kind, "message": le.Message, "state": state})
}
