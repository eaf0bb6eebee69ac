package bigquery

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func isAlreadyExists(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
