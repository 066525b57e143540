package validation

import (
	"encoding/base64"
	"fmt"

	"github.com/imrishuroy/go-guest-lookup/internal/collaborator"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// RequestCodeRequest is the payload for POST /guest/request-code
type RequestCodeRequest struct {
	Email   string `json:"email" validate:"required,email,max=254"`
	Captcha string `json:"captcha" validate:"required,captcha"` // answer to the current puzzle
}

// VerifyCodeRequest is the payload for POST /guest/verify
type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=8"`
}

// ReasonRequest is the payload for cancel and refund requests.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// AddressRequest is the payload for PUT /guest/orders/:number/address
type AddressRequest struct {
	FullName    string `json:"full_name" validate:"required,max=100"`
	Phone       string `json:"phone" validate:"required,min=7,max=20"`
	AddressLine string `json:"address_line" validate:"required,max=250"`
	City        string `json:"city" validate:"required,max=80"`
	District    string `json:"district,omitempty" validate:"omitempty,max=80"`
	PostalCode  string `json:"postal_code,omitempty" validate:"omitempty,alphanum,max=10"`
}

func (r AddressRequest) ToAddress() orders.Address {
	return orders.Address{
		FullName:    r.FullName,
		Phone:       r.Phone,
		AddressLine: r.AddressLine,
		City:        r.City,
		District:    r.District,
		PostalCode:  r.PostalCode,
	}
}

// CustomerInfoRequest is the payload for PUT /guest/orders/:number/customer-info
type CustomerInfoRequest struct {
	FullName string `json:"full_name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
}

func (r CustomerInfoRequest) ToCustomerInfo() orders.CustomerInfo {
	return orders.CustomerInfo{FullName: r.FullName, Phone: r.Phone}
}

// ReviewImage is one base64-encoded image of a review.
type ReviewImage struct {
	Filename    string `json:"filename" validate:"required,max=200"`
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png image/webp"`
	Data        string `json:"data" validate:"required,base64"`
}

// ReviewRequest is the payload for POST /guest/orders/:number/reviews
type ReviewRequest struct {
	ProductID string        `json:"product_id" validate:"required"`
	// Rating is range-checked by the session so clients see INVALID_RATING.
	Rating    int           `json:"rating"`
	Comment   string        `json:"comment,omitempty" validate:"omitempty,max=2000"`
	Images    []ReviewImage `json:"images,omitempty" validate:"max=5,dive"` // lookup.MaxReviewImages
}

// ToReview decodes the images into a lookup.Review.
func (r ReviewRequest) ToReview() (lookup.Review, error) {
	rv := lookup.Review{ProductID: r.ProductID, Rating: r.Rating, Comment: r.Comment}
	for i, img := range r.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return lookup.Review{}, fmt.Errorf("image %d: %w", i, err)
		}
		rv.Images = append(rv.Images, collaborator.ReviewImage{
			Filename:    img.Filename,
			ContentType: img.ContentType,
			Data:        data,
		})
	}
	return rv, nil
}
