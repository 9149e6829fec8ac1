package core

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var schemePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*$`)

// ValidateCreateRequest validates a task creation request.
func ValidateCreateRequest(req *CreateRequest) *APIError {
	if req.SchemeAccountID <= 0 {
		return NewInvalidRequestError("A positive scheme account id is required.", map[string]any{
			"field":      "scheme_account_id",
			"validation": "required",
		})
	}

	if req.MessageUID == "" {
		return NewInvalidRequestError("The 'message_uid' field is required.", map[string]any{
			"field":      "message_uid",
			"validation": "required",
		})
	}

	if !req.JourneyType.Valid() {
		return NewInvalidRequestError(
			fmt.Sprintf("Unknown journey type %q.", req.JourneyType),
			map[string]any{
				"field":    "journey_type",
				"expected": []JourneyType{JourneyAttemptJoin, JourneyAttemptLogin},
				"received": req.JourneyType,
			},
		)
	}

	if !schemePattern.MatchString(req.SchemeIdentifier) {
		return NewInvalidRequestError(
			fmt.Sprintf("The scheme identifier must match pattern '^[a-z0-9][a-z0-9\\-]*$'. Got: %q", req.SchemeIdentifier),
			map[string]any{
				"field":    "scheme_identifier",
				"expected": "^[a-z0-9][a-z0-9\\-]*$",
				"received": req.SchemeIdentifier,
			},
		)
	}

	if len(req.Credentials) == 0 || string(req.Credentials) == "null" {
		return NewInvalidRequestError("Credentials are required.", map[string]any{
			"field":      "credentials",
			"validation": "required",
		})
	}
	if !json.Valid(req.Credentials) {
		return NewInvalidRequestError("Credentials must be valid JSON.", map[string]any{
			"field":    "credentials",
			"received": detectJSONType(req.Credentials),
		})
	}

	for i, c := range req.Consents {
		if c.Slug == "" {
			return NewInvalidRequestError(
				fmt.Sprintf("The 'consents[%d].slug' field is required.", i),
				map[string]any{"field": fmt.Sprintf("consents[%d].slug", i)},
			)
		}
	}

	return nil
}

func detectJSONType(data json.RawMessage) string {
	if len(data) == 0 {
		return "empty"
	}
	switch data[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		if json.Valid(data) {
			return "number"
		}
		return "invalid"
	}
}
