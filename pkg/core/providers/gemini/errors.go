package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/vango-go/shikkha/pkg/core"
)

// IsCredentialError reports whether err means the API key is invalid,
// unselected or lacks access.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	if core.IsType(err, core.ErrCredential) {
		return true
	}
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return true
		}
		switch apiErr.Status {
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			return true
		}
		if core.LooksLikeCredentialFailure(apiErr.Message) {
			return true
		}
	}
	return core.LooksLikeCredentialFailure(err.Error())
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// classify maps a genai failure onto the core error taxonomy.
func classify(ctx context.Context, op string, err error) *core.Error {
	var cerr *core.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	msg := fmt.Sprintf("gemini %s failed", op)
	switch {
	case IsCredentialError(err):
		return core.NewCredentialError(msg, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		e := core.NewTimeoutError(msg + ": request timed out")
		e.ProviderError = err
		return e
	}
	e := core.NewAPIError(msg, err)
	if apiErr, ok := asAPIError(err); ok && apiErr.Status != "" {
		e.Code = apiErr.Status
	}
	return e
}
