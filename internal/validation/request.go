package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest is returned for structurally invalid request bodies.
var ErrInvalidRequest = errors.New("invalid request")

var validate = validator.New()

// AnalyticsRequest is the POST /analytics body. Boundary is kept raw and decoded by
// geometry.DecodeBoundary so that bad coordinates report INVALID_GEOMETRY rather than
// INVALID_REQUEST.
type AnalyticsRequest struct {
	Boundary  json.RawMessage `json:"boundary"`
	StartDate string          `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string          `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	Range     Range           `json:"range" validate:"omitempty,oneof=last-3-months last-6-months last-12-months ytd custom"`
}

// GeometryRequest is the POST /geometry/normalize body.
type GeometryRequest struct {
	Boundary json.RawMessage `json:"boundary"`
}

// ValidateAnalyticsRequest checks field formats. Date format failures wrap
// ErrInvalidDateRange; anything else wraps ErrInvalidRequest.
func ValidateAnalyticsRequest(req AnalyticsRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "StartDate", "EndDate":
			return fmt.Errorf("%w: %s must be a YYYY-MM-DD date", ErrInvalidDateRange, jsonName(fe.Field()))
		}
	}
	fe := verrs[0]
	return fmt.Errorf("%w: %s failed %s validation", ErrInvalidRequest, jsonName(fe.Field()), fe.Tag())
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
