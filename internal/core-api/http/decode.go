package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/radieske/betting-core-api/internal/core-api/dto"
)

// decodeJSON lê o corpo com limite de tamanho. JSON inválido vira erro de validação (422).
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	var (
		tooBig  *http.MaxBytesError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooBig):
		return err
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return &dto.ValidationError{Fields: []dto.FieldError{{
			Field:   typeErr.Field,
			Message: "must be of type " + typeErr.Type.String(),
		}}}
	default:
		return &dto.ValidationError{Fields: []dto.FieldError{{Field: "body", Message: "invalid JSON: " + err.Error()}}}
	}
}
