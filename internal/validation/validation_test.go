package validation

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestCodeRequest(t *testing.T) {
	v := New()

	if err := v.Struct(RequestCodeRequest{Email: "a@b.com", Captcha: "abc2z"}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	for _, req := range []RequestCodeRequest{
		{Email: "not-an-email", Captcha: "ABCDE"},
		{Email: "a@b.com", Captcha: "ABC"},
		{Email: "a@b.com", Captcha: "AB0DE"}, // 0 is not in the alphabet
		{Email: "a@b.com"},
	} {
		if err := v.Struct(req); err == nil {
			t.Fatalf("expected validation error for %+v", req)
		}
	}
}

func TestVerifyCodeRequest(t *testing.T) {
	v := New()
	if err := v.Struct(VerifyCodeRequest{Code: "123456"}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if err := v.Struct(VerifyCodeRequest{Code: "12ab56"}); err == nil {
		t.Fatal("expected error for non-numeric code")
	}
}

func TestAddressRequest(t *testing.T) {
	v := New()
	req := AddressRequest{FullName: "Ada Lovelace", Phone: "+905551112233", AddressLine: "Main St 1", City: "Ankara", PostalCode: "06100"}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	addr := req.ToAddress()
	if addr.City != "Ankara" || addr.PostalCode != "06100" {
		t.Fatalf("unexpected address %+v", addr)
	}

	req.City = ""
	if err := v.Struct(req); err == nil {
		t.Fatal("expected error for missing city")
	}
}

func TestReviewRequest(t *testing.T) {
	v := New()
	img := ReviewImage{Filename: "a.png", ContentType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png-bytes"))}

	req := ReviewRequest{ProductID: "42", Rating: 5, Comment: "great", Images: []ReviewImage{img}}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	rv, err := req.ToReview()
	if err != nil {
		t.Fatalf("to review: %v", err)
	}
	if len(rv.Images) != 1 || string(rv.Images[0].Data) != "png-bytes" {
		t.Fatalf("unexpected review %+v", rv)
	}

	bad := req
	bad.Rating = 6
	if err := v.Struct(bad); err != nil {
		t.Fatalf("rating range belongs to the session, got %v", err)
	}
	bad = req
	bad.Images = []ReviewImage{img, img, img, img, img, img}
	if err := v.Struct(bad); err == nil {
		t.Fatal("expected error for 6 images")
	}
	bad = req
	bad.Images = []ReviewImage{{Filename: "a.gif", ContentType: "image/gif", Data: img.Data}}
	if err := v.Struct(bad); err == nil {
		t.Fatal("expected error for gif")
	}
	bad = req
	bad.Images = []ReviewImage{{Filename: "big.jpg", ContentType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(make([]byte, MaxImageBytes+10))}}
	if err := v.Struct(bad); err == nil {
		t.Fatal("expected error for oversized image")
	}
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	cases := []struct {
		body string
		code int
	}{
		{`{"reason":"changed my mind"}`, http.StatusOK},
		{`{"reason":"x"}`, http.StatusBadRequest},
		{`{"reason":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req ReasonRequest
		err := BindAndValidate(c, &req, v)
		if tc.code == http.StatusOK {
			if err != nil {
				t.Fatalf("body %s: unexpected error %v", tc.body, err)
			}
			continue
		}
		if err == nil || w.Code != tc.code {
			t.Fatalf("body %s: expected %d, got %d (err=%v)", tc.body, tc.code, w.Code, err)
		}
	}
}

func TestBindAndValidate_FieldNames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":9,"images":[{"filename":"a.gif","content_type":"image/gif","data":"AAAA"}]}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req ReviewRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected validation error")
	}
	body := w.Body.String()
	for _, want := range []string{`"product_id":"is required"`, `"images[0].content_type"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("response %s does not contain %s", body, want)
		}
	}
}
