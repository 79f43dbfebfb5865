package routes

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// apiError maps coded errors to HTTP statuses.
func apiError(err error) error {
	var verr *catmap.ValidationError
	if errors.As(err, &verr) {
		details := make([]error, len(verr.Problems))
		for i, p := range verr.Problems {
			details[i] = &huma.ErrorDetail{Message: p}
		}
		return huma.Error422UnprocessableEntity("invalid run parameters", details...)
	}

	switch qerr.CodeOf(err) {
	case qerr.CodeValidation:
		return huma.Error422UnprocessableEntity(err.Error())
	case qerr.CodeNotFound:
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
