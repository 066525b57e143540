package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// maxBodyBytes caps how much of a collaborator response is read.
const maxBodyBytes = 4 << 20

// ReviewImage is one image attached to a review.
type ReviewImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReviewSubmission is a product review as sent to the collaborator.
type ReviewSubmission struct {
	ProductID string
	Rating    int
	Comment   string
	Images    []ReviewImage
}

// Client calls the collaborator REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client with its own http.Client bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient returns a Client using hc.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type request struct {
	method      string
	path        string
	query       url.Values
	token       string
	body        io.Reader
	contentType string
}

func jsonBody(v interface{}) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do sends req and normalizes the response. Transport failures are returned as errors;
// collaborator-level failures are returned through Result.Err.
func (c *Client) do(ctx context.Context, req request) (Result, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, req.body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read %s %s: %w", req.method, req.path, err)
	}
	return Normalize(resp.StatusCode, body), nil
}

// call is do followed by Result.Err.
func (c *Client) call(ctx context.Context, req request) (Result, error) {
	res, err := c.do(ctx, req)
	if err != nil {
		return res, err
	}
	return res, res.Err()
}

// RequestCode asks the collaborator to email a one-time code to email.
func (c *Client) RequestCode(ctx context.Context, email string) error {
	body, err := jsonBody(map[string]string{"email": email})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, request{method: http.MethodPost, path: "/lookup/request-code", body: body, contentType: "application/json"})
	return err
}

// VerifyCode exchanges a code for a lookup token.
func (c *Client) VerifyCode(ctx context.Context, email, code string) (string, error) {
	body, err := jsonBody(map[string]string{"email": email, "code": code})
	if err != nil {
		return "", err
	}
	res, err := c.call(ctx, request{method: http.MethodPost, path: "/lookup/verify-code", body: body, contentType: "application/json"})
	if err != nil {
		return "", err
	}
	var data struct {
		LookupToken string `json:"lookupToken"`
	}
	if err := res.Decode(&data); err != nil {
		return "", err
	}
	if data.LookupToken == "" {
		return "", errors.New("collaborator: verify-code returned no lookupToken")
	}
	return data.LookupToken, nil
}

// ListOrders returns the order summaries visible to token.
func (c *Client) ListOrders(ctx context.Context, token string) ([]orders.OrderSummary, error) {
	res, err := c.call(ctx, request{method: http.MethodGet, path: "/lookup", query: url.Values{"token": {token}}, token: token})
	if err != nil {
		return nil, err
	}
	var wires []orderWire
	if err := res.Decode(&wires); err != nil {
		return nil, err
	}
	out := make([]orders.OrderSummary, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.toSummary())
	}
	return out, nil
}

// GetOrder returns one order's detail.
func (c *Client) GetOrder(ctx context.Context, token, orderNumber string) (*orders.OrderDetail, error) {
	res, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/lookup/" + url.PathEscape(orderNumber),
		query:  url.Values{"token": {token}},
		token:  token,
	})
	if err != nil {
		return nil, err
	}
	var w orderWire
	if err := res.Decode(&w); err != nil {
		return nil, err
	}
	return w.toDetail(), nil
}

// Tracking returns shipment tracking for an order.
func (c *Client) Tracking(ctx context.Context, token, orderNumber string) (*orders.TrackingInfo, error) {
	res, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/lookup/" + url.PathEscape(orderNumber) + "/tracking",
		query:  url.Values{"token": {token}},
		token:  token,
	})
	if err != nil {
		return nil, err
	}
	var w trackingWire
	if err := res.Decode(&w); err != nil {
		return nil, err
	}
	return &orders.TrackingInfo{
		OrderNumber:    w.OrderNumber,
		Carrier:        w.Carrier,
		TrackingNumber: w.TrackingNumber,
		State:          w.State,
		UpdatedAt:      time.Time(w.UpdatedAt),
	}, nil
}

// UpdateAddress replaces the shipping address of an order.
func (c *Client) UpdateAddress(ctx context.Context, token, email, orderNumber string, addr orders.Address) error {
	body, err := jsonBody(toAddressWire(addr))
	if err != nil {
		return err
	}
	_, err = c.call(ctx, request{
		method:      http.MethodPut,
		path:        "/orders/" + url.PathEscape(orderNumber) + "/address",
		query:       url.Values{"email": {email}},
		token:       token,
		body:        body,
		contentType: "application/json",
	})
	return err
}

// UpdateCustomerInfo replaces the customer contact fields of an order.
func (c *Client) UpdateCustomerInfo(ctx context.Context, token, email, orderNumber string, info orders.CustomerInfo) error {
	body, err := jsonBody(map[string]string{"fullName": info.FullName, "phone": info.Phone})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, request{
		method:      http.MethodPut,
		path:        "/orders/" + url.PathEscape(orderNumber) + "/customer-info",
		query:       url.Values{"email": {email}},
		token:       token,
		body:        body,
		contentType: "application/json",
	})
	return err
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, token, email, orderNumber, reason string) error {
	_, err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/orders/" + url.PathEscape(orderNumber) + "/cancel",
		query:  url.Values{"email": {email}, "reason": {reason}},
		token:  token,
	})
	return err
}

// RequestRefund files a refund request for an order.
func (c *Client) RequestRefund(ctx context.Context, token, email, orderNumber, reason string) error {
	_, err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/orders/" + url.PathEscape(orderNumber) + "/refund",
		query:  url.Values{"email": {email}, "reason": {reason}},
		token:  token,
	})
	return err
}

// HasReviewed reports whether the verified identity already reviewed productID.
func (c *Client) HasReviewed(ctx context.Context, token, productID string) (bool, error) {
	res, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/reviews/product/" + url.PathEscape(productID) + "/has-reviewed",
		token:  token,
	})
	if err != nil {
		return false, err
	}
	var reviewed bool
	if err := res.Decode(&reviewed); err != nil {
		return false, err
	}
	return reviewed, nil
}

// CreateReview submits a review as multipart form data.
func (c *Client) CreateReview(ctx context.Context, token string, sub ReviewSubmission) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"productId": sub.ProductID,
		"rating":    strconv.Itoa(sub.Rating),
	}
	if sub.Comment != "" {
		fields["comment"] = sub.Comment
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for i, img := range sub.Images {
		h := make(textproto.MIMEHeader)
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image-%d", i+1)
		}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, name))
		ct := img.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return fmt.Errorf("write image part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	_, err := c.call(ctx, request{
		method:      http.MethodPost,
		path:        "/reviews/create",
		token:       token,
		body:        &buf,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return reviewRejection(err)
	}
	return nil
}
