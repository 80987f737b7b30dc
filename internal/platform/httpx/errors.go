// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflicting state")
	ErrUnavailable  = errors.New("temporarily unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// Rule maps a domain error to a status. Match is used when set, otherwise
// errors.Is against Target. Expose keeps the error detail on a 500 response.
type Rule struct {
	Target error
	Match  func(error) bool
	Status int
	Title  string
	Expose bool
}

func (r Rule) matches(err error) bool {
	if r.Match != nil {
		return r.Match(err)
	}
	return r.Target != nil && errors.Is(err, r.Target)
}

var defaultRules = []Rule{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Target: ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Unavailable"},
	{Target: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
}

// StatusOf resolves the status and title for err. rules take precedence
// over the package defaults; unmatched errors are 500.
func StatusOf(err error, rules ...Rule) (int, string) {
	rule := resolve(err, rules)
	return rule.Status, rule.Title
}

func resolve(err error, rules []Rule) Rule {
	for _, set := range [][]Rule{rules, defaultRules} {
		for _, rule := range set {
			if rule.matches(err) {
				return rule
			}
		}
	}
	return Rule{Status: http.StatusInternalServerError, Title: "Internal Error"}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Details
// of 500 errors are only exposed when the matching rule allows it.
func RespondError(w http.ResponseWriter, err error, rules ...Rule) {
	rule := resolve(err, rules)
	detail := err.Error()
	if rule.Status == http.StatusInternalServerError && !rule.Expose {
		detail = ""
	}
	Problem(w, rule.Status, rule.Title, detail)
}
