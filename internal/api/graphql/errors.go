package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-agent-market/internal/api/shared/errors"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

// ErrIntrospectionUnsupported is returned for __schema and __type selections
var ErrIntrospectionUnsupported = apierrors.NewBadRequestError("Introspection is not supported")

// ErrorPresenter formats a resolver error with a stable extensions.code.
// Errors that are not an APIError are logged and hidden behind a generic internal error.
func ErrorPresenter(ctx context.Context, err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		return handleInternalError(ctx, err)
	}

	if apiErr.Internal() {
		return handleInternalError(ctx, err)
	}

	presented := &gqlerror.Error{
		Message: apiErr.Message,
		Extensions: map[string]interface{}{
			"code": string(apiErr.Code),
		},
	}
	if apiErr.Details != "" {
		presented.Extensions["details"] = apiErr.Details
	}
	return presented
}

func handleInternalError(ctx context.Context, err error) *gqlerror.Error {
	logger.ErrorCtx(ctx, fmt.Errorf("unhandled GraphQL error: %w", err))
	return &gqlerror.Error{
		Message: "Internal server error",
		Extensions: map[string]interface{}{
			"code": string(apierrors.ErrCodeInternalError),
		},
	}
}

// recoverResolver turns a resolver panic into an internal error
func recoverResolver(ctx context.Context, r interface{}) error {
	logger.ErrorCtx(ctx, fmt.Errorf("panic: %v", r), zap.Any("panic", r))
	return apierrors.NewInternalError("Internal server error")
}
