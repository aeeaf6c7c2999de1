package api

import (
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/newswire/pkg/analytics"
)

// ViewPayload is the body of POST /metrics/view
type ViewPayload struct {
	PostID string `json:"postId" validate:"required,min=1"`
	Path   string `json:"path" validate:"required,min=1,max=240"`
}

// EngagementPayload is the body of POST /metrics/engagement. Which of
// TargetURL and SecondsOnPage is required depends on Type; the other is
// ignored.
type EngagementPayload struct {
	Type          string   `json:"type" validate:"required,oneof=LINK_CLICK TIME_ON_PAGE"`
	PostID        string   `json:"postId" validate:"required,min=1"`
	Path          string   `json:"path" validate:"required,min=1,max=240"`
	TargetURL     *string  `json:"targetUrl,omitempty"`
	SecondsOnPage *float64 `json:"secondsOnPage,omitempty"`
}

type linkClickFields struct {
	TargetURL string `validate:"required,url,max=500"`
}

type timeOnPageFields struct {
	SecondsOnPage *float64 `validate:"required,whole,min=0,max=3600"`
}

// IngestResponse is the 200 body of both metrics endpoints
type IngestResponse struct {
	OK       bool             `json:"ok"`
	Recorded bool             `json:"recorded"`
	Reason   analytics.Reason `json:"reason,omitempty"`
}

// IngestError is the non-200 body of both metrics endpoints
type IngestError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

const (
	errInvalidPayload = "invalid_payload"
	errInternal       = "internal_error"
)

// newValidator returns a validator that also understands the "whole" tag
// for integral floats.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		switch field.Kind() {
		case reflect.Float32, reflect.Float64:
			f := field.Float()
			return !math.IsInf(f, 0) && f == math.Trunc(f)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return true
		}
		return false
	})
	return v
}

// validate checks the payload and the fields its type requires
func (p *EngagementPayload) validate(v *validator.Validate) error {
	if err := v.Struct(p); err != nil {
		return err
	}
	switch analytics.EngagementType(p.Type) {
	case analytics.EngagementLinkClick:
		var target string
		if p.TargetURL != nil {
			target = *p.TargetURL
		}
		return v.Struct(linkClickFields{TargetURL: target})
	default:
		return v.Struct(timeOnPageFields{SecondsOnPage: p.SecondsOnPage})
	}
}
