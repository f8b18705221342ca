package github

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/review-pipeline/internal/core"
)

// classify maps a GitHub API error onto the pipeline error classes.
// fallback is the class used for other 4xx responses.
func classify(err error, fallback error, what string) error {
	if err == nil {
		return nil
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}

	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return core.Transient(err, what+": rate limited")
	}

	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusNotFound:
			return core.Permanent(core.ErrNotFound, err, what)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return core.Permanent(core.ErrPermissionDenied, err, what)
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
			return core.Transient(err, fmt.Sprintf("%s: status %d", what, code))
		default:
			return core.Permanent(fallback, err, fmt.Sprintf("%s: status %d", what, code))
		}
	}
	return core.Transient(err, what)
}

func statusCode(err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}

// requestNotSent reports whether err proves the request never reached
// GitHub, so a write can be retried without risking a duplicate.
func requestNotSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// classifyDelivery classifies a failed CreateReview call. Responses that
// prove the review was not created are retryable or rejected; anything
// else is retried as uncertain and resolved by the marker lookup.
func classifyDelivery(err error) error {
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return core.Transient(err, "posting review: rate limited")
	}
	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusTooManyRequests:
			return core.Transient(err, "posting review: rate limited")
		case code == http.StatusNotFound || code == http.StatusUnprocessableEntity:
			return core.Permanent(core.ErrDeliveryRejected, err, "posting review")
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return core.Permanent(core.ErrPermissionDenied, err, "posting review")
		case code < 500:
			return core.Permanent(core.ErrDeliveryRejected, err, fmt.Sprintf("posting review: status %d", code))
		default:
			return core.Uncertain(err, fmt.Sprintf("posting review: status %d", code))
		}
	}
	if requestNotSent(err) {
		return core.Transient(err, "posting review: GitHub unreachable")
	}
	return core.Uncertain(err, "posting review")
}
