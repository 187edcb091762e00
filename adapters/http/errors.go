package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shrinkix/quotagate/app"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/domain/upload"
	"github.com/shrinkix/quotagate/pkg/jsonapi"
	"github.com/shrinkix/quotagate/ports"
)

// errorFor maps a service error to a JSON:API error object and any headers
// the response must carry. Unrecognized errors become a 500 with no detail.
func errorFor(err error, tier plan.Tier, now time.Time) (jsonapi.Error, map[string]string) {
	var (
		authErr    *credential.AuthError
		expired    *quota.ExpiredError
		exceeded   *quota.ExceededError
		ceiling    *operation.CeilingError
		violation  *upload.Violation
		capErr     *credit.CapError
		guestLimit *guest.LimitError
		formErr    *formError
		persist    *app.PersistenceError
		processing *app.ProcessingError
	)

	switch {
	case errors.As(err, &authErr):
		return jsonapi.NewError(http.StatusUnauthorized, authErr.Reason, "Unauthorized").
			Detail("The provided credentials are invalid").
			Build(), nil

	case errors.As(err, &expired):
		return jsonapi.NewError(http.StatusForbidden, "plan_expired", "Plan Expired").
			Detail(expired.Error()).
			Meta("expired_at", expired.ExpiredAt.UTC()).
			Build(), nil

	case errors.As(err, &exceeded):
		status := http.StatusForbidden
		headers := map[string]string{}
		if tier == plan.TierAPI {
			status = http.StatusTooManyRequests
			headers["Retry-After"] = retryAfter(exceeded.ResetAt, now)
		}
		return jsonapi.NewError(status, exceeded.Reason, "Quota Exceeded").
			Detail(exceeded.Error()).
			Meta("used", exceeded.Used).
			Meta("limit", exceeded.Limit).
			Meta("reset_at", exceeded.ResetAt.UTC()).
			Build(), headers

	case errors.As(err, &ceiling):
		ops := make([]string, len(ceiling.Operations))
		for i, k := range ceiling.Operations {
			ops[i] = string(k)
		}
		return jsonapi.NewError(http.StatusUnprocessableEntity, "operation_limit_exceeded", "Operation Limit Exceeded").
			Detail(ceiling.Error()).
			Meta("requested", ceiling.Requested).
			Meta("allowed", ceiling.Allowed).
			Meta("operations", ops).
			Build(), nil

	case errors.As(err, &violation):
		b := jsonapi.NewError(violation.Status, violation.Code, "Upload Rejected").
			Detail(violation.Message).
			Pointer("/" + imageField)
		for k, v := range violation.Details {
			b.Meta(k, v)
		}
		return b.Build(), nil

	case errors.As(err, &guestLimit):
		return jsonapi.NewError(http.StatusTooManyRequests, "guest_limit_reached", "Too Many Requests").
			Detail(guestLimit.Error()).
			Meta("limit", guestLimit.Limit).
			Meta("reset_at", guestLimit.ResetAt.UTC()).
			Build(), map[string]string{"Retry-After": retryAfter(guestLimit.ResetAt, now)}

	case errors.As(err, &capErr):
		return jsonapi.NewError(http.StatusUnprocessableEntity, "credit_cap_exceeded", "Credit Cap Exceeded").
			Detail(capErr.Error()).
			Meta("current_credits", capErr.Balance).
			Meta("requested", capErr.Requested).
			Meta("cap", capErr.Cap).
			Build(), nil

	case errors.Is(err, credit.ErrUnknownAddon):
		return jsonapi.NewError(http.StatusBadRequest, "invalid_addon", "Bad Request").
			Detail(err.Error()).Pointer("/addonType").Build(), nil

	case errors.Is(err, credit.ErrMissingPayment):
		return jsonapi.ErrValidationRequired("paymentReference"), nil

	case errors.Is(err, credit.ErrAddonUnavailable):
		return jsonapi.NewError(http.StatusUnprocessableEntity, "addons_unavailable", "Add-ons Unavailable").
			Detail(err.Error()).Build(), nil

	case errors.Is(err, credit.ErrDuplicatePayment):
		return jsonapi.ErrConflict(err.Error()), nil

	case errors.As(err, &formErr):
		return jsonapi.ErrValidationInvalid(formErr.Field, formErr.Reason), nil

	case errors.As(err, &persist):
		return jsonapi.ErrServiceUnavailable("Usage data is temporarily unavailable"), nil

	case errors.Is(err, ports.ErrNotFound):
		return jsonapi.ErrNotFound("account"), nil

	case errors.As(err, &processing):
		return jsonapi.NewError(http.StatusBadGateway, "processing_failed", "Bad Gateway").
			Detail("Image processing failed").Build(), nil
	}

	return jsonapi.ErrInternal(""), nil
}

// retryAfter renders whole seconds until t, never less than one.
func retryAfter(t, now time.Time) string {
	secs := int64(t.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
