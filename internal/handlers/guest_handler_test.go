package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-guest-lookup/internal/aws/awstest"
	"github.com/imrishuroy/go-guest-lookup/internal/collaborator/collabtest"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

const guest = "guest@example.com"

type testAPI struct {
	t       *testing.T
	router  *gin.Engine
	fake    *collabtest.Fake
	dynamo  *awstest.MemoryDynamo
	queue   *awstest.MemorySQS
	metrics *awstest.MemoryCloudWatch
	session string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := &testAPI{
		t:       t,
		router:  gin.New(),
		fake:    collabtest.New(),
		queue:   &awstest.MemorySQS{},
		metrics: &awstest.MemoryCloudWatch{},
		dynamo: awstest.NewMemoryDynamo().
			CreateTable("sessions", "session_id").
			CreateTable("idempotency", "idempotency_key").
			CreateTable("actions", "action_id"),
	}
	RegisterGuestRoutes(a.router, HandlerConfig{
		Backend:          a.fake,
		DynamoDBClient:   a.dynamo,
		SQSClient:        a.queue,
		CloudWatchClient: a.metrics,
		SessionsTable:    "sessions",
		IdempotencyTable: "idempotency",
		ActionsTable:     "actions",
		QueueURL:         "https://sqs.local/actions",
		MetricsNamespace: "GuestLookup",
		SessionTTL:       time.Hour,
		TTLWindow:        24 * time.Hour,
	})
	return a
}

func (a *testAPI) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.session != "" {
		req.Header.Set(SessionHeader, a.session)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if id := w.Header().Get(SessionHeader); id != "" {
		a.session = id
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// signIn walks a fresh session through captcha, code and verification.
func (a *testAPI) signIn() {
	a.t.Helper()
	w := a.do(http.MethodGet, "/guest/session", nil)
	require.Equal(a.t, http.StatusOK, w.Code)
	view := decode(a.t, w)
	require.Equal(a.t, "request", view["state"])
	puzzle, _ := view["puzzle"].(string)
	require.NotEmpty(a.t, puzzle)

	w = a.do(http.MethodPost, "/guest/request-code", gin.H{"email": guest, "captcha": puzzle})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(a.t, "verify", decode(a.t, w)["state"])

	w = a.do(http.MethodPost, "/guest/verify", gin.H{"code": a.fake.LastCode(guest)})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(a.t, "list", decode(a.t, w)["state"])
}

func seed(f *collabtest.Fake, number string, st orders.Status, productIDs ...string) {
	o := orders.OrderDetail{OrderNumber: number, Status: st, CreatedAt: time.Now().Add(-24 * time.Hour)}
	for _, id := range productIDs {
		o.Items = append(o.Items, orders.Item{ProductID: id, ProductName: id, Quantity: 1, UnitPrice: 10})
	}
	f.AddOrder(guest, o)
}

func TestGuestFlow_ListAndDetail(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending, "p1")
	seed(a.fake, "B2", orders.StatusDelivered, "p2")
	a.signIn()

	w := a.do(http.MethodGet, "/guest/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := decode(t, w)["orders"].([]interface{})
	assert.Len(t, list, 2)

	w = a.do(http.MethodGet, "/guest/orders/A1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view struct {
		Order       orders.OrderDetail `json:"order"`
		Permissions struct {
			Actions []string `json:"actions"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "A1", view.Order.OrderNumber)
	assert.Equal(t, []string{"CANCEL_ORDER"}, view.Permissions.Actions)

	w = a.do(http.MethodGet, "/guest/orders/B2/reviews/p2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["can_review"])

	w = a.do(http.MethodPost, "/guest/back", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "list", decode(t, w)["state"])

	assert.Greater(t, a.metrics.Total("CodeVerified"), 0.0)
}

func TestGuestFlow_CancelIsIdempotent(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending, "p1")
	a.signIn()

	body := gin.H{"reason": "changed my mind"}
	w := a.do(http.MethodPost, "/guest/orders/A1/cancel", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, "CANCELLED", first["status"])

	w = a.do(http.MethodPost, "/guest/orders/A1/cancel", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, first, decode(t, w))

	assert.Equal(t, 1, a.fake.Calls("CancelOrder"))
	assert.Equal(t, 1, a.dynamo.Len("actions"))
	require.Len(t, a.queue.Bodies(), 1)

	var ev orders.ActionEvent
	require.NoError(t, json.Unmarshal([]byte(a.queue.Bodies()[0]), &ev))
	assert.Equal(t, "A1", ev.OrderNumber)
	assert.Equal(t, string(lookup.ActionCancelOrder), ev.Action)
	assert.NotEmpty(t, ev.ActionID)
}

func TestGuestFlow_MutationNeedsIdempotencyKey(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending)
	a.signIn()

	w := a.do(http.MethodPost, "/guest/orders/A1/cancel", gin.H{"reason": "no longer needed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_idempotency_key", decode(t, w)["error"])
	assert.Equal(t, 0, a.fake.Calls("CancelOrder"))
}

func TestGuestFlow_KeyReusedForOtherAction(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending)
	a.signIn()

	w := a.do(http.MethodPost, "/guest/orders/A1/cancel", gin.H{"reason": "no longer needed"}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/guest/orders/A1/refund", gin.H{"reason": "no longer needed"}, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 0, a.fake.Calls("RequestRefund"))
}

func TestGuestFlow_NotPermittedThenRetry(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending)
	a.signIn()

	w := a.do(http.MethodPost, "/guest/orders/A1/refund", gin.H{"reason": "arrived broken"}, "Idempotency-Key", "k-9")
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, "ACTION_NOT_PERMITTED", decode(t, w)["error"])
	assert.Equal(t, 0, a.fake.Calls("RequestRefund"))

	a.fake.SetStatus("A1", orders.StatusDelivered)
	w = a.do(http.MethodPost, "/guest/orders/A1/refund", gin.H{"reason": "arrived broken"}, "Idempotency-Key", "k-9")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REFUND_REQUESTED", decode(t, w)["status"])
}

func TestGuestFlow_WrongCodeAndCooldown(t *testing.T) {
	a := newTestAPI(t)
	view := decode(t, a.do(http.MethodGet, "/guest/session", nil))

	w := a.do(http.MethodPost, "/guest/request-code", gin.H{"email": guest, "captcha": view["puzzle"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 180, decode(t, w)["cooldown_seconds"])

	w = a.do(http.MethodPost, "/guest/resend", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = a.do(http.MethodPost, "/guest/verify", gin.H{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	out := decode(t, w)
	assert.Equal(t, "INVALID_CODE", out["error"])
	assert.Equal(t, "verify", out["state"])
}

func TestGuestFlow_WrongCaptcha(t *testing.T) {
	a := newTestAPI(t)
	a.do(http.MethodGet, "/guest/session", nil)

	w := a.do(http.MethodPost, "/guest/request-code", gin.H{"email": guest, "captcha": "ZZZZZ"})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "CHALLENGE_FAILED", decode(t, w)["error"])
	assert.Equal(t, 0, a.fake.Calls("RequestCode"))
}

func TestGuestFlow_TokenRejectedResets(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "A1", orders.StatusPending)
	a.signIn()
	a.fake.Revoke("tok-1")

	w := a.do(http.MethodGet, "/guest/orders", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "request", decode(t, w)["state"])

	w = a.do(http.MethodGet, "/guest/session", nil)
	assert.Equal(t, "request", decode(t, w)["state"])
}

func TestGuestFlow_UnknownSessionStartsFresh(t *testing.T) {
	a := newTestAPI(t)
	a.session = "does-not-exist"

	w := a.do(http.MethodGet, "/guest/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "does-not-exist", a.session)
	assert.Equal(t, 1, a.dynamo.Len("sessions"))
}

func TestGuestFlow_SubmitReview(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "B2", orders.StatusDelivered, "p2")
	a.signIn()

	review := gin.H{"product_id": "p2", "rating": 5, "comment": "great"}
	w := a.do(http.MethodPost, "/guest/orders/B2/reviews", review, "Idempotency-Key", "r-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/guest/orders/B2/reviews/p2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REVIEWED", decode(t, w)["error"])

	w = a.do(http.MethodPost, "/guest/orders/B2/reviews", review, "Idempotency-Key", "r-2")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, a.fake.Calls("CreateReview"))
}

func TestGuestFlow_NewLookup(t *testing.T) {
	a := newTestAPI(t)
	a.signIn()

	w := a.do(http.MethodPost, "/guest/new-lookup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.Equal(t, "request", view["state"])
	assert.NotEmpty(t, view["puzzle"])

	w = a.do(http.MethodGet, "/guest/orders", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGuestFlow_ReviewRatingOutOfRange(t *testing.T) {
	a := newTestAPI(t)
	seed(a.fake, "B2", orders.StatusDelivered, "p2")
	a.signIn()

	for i, rating := range []int{0, 6} {
		w := a.do(http.MethodPost, "/guest/orders/B2/reviews", gin.H{"product_id": "p2", "rating": rating}, "Idempotency-Key", "bad-"+string(rune('a'+i)))
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Equal(t, "INVALID_RATING", decode(t, w)["error"])
	}
	assert.Equal(t, 0, a.fake.Calls("CreateReview"))
}
