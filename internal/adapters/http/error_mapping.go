package httpadapter

import (
	"net/http"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrEncoding):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrCollectionSchema):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
