/*
Package resp writes the JSON envelope returned by the introspection and health endpoints.

Every body is {code, message, data}: code 0 on success, otherwise an errs code whose
HTTP status and client message come from the errs table.
*/
package resp

import (
	"encoding/json"
	"errors"
	"net/http"

	"hzpresence/internal/pkg/errs"
	"hzpresence/internal/pkg/logx"
)

// JSONResponse is the envelope of every HTTP body.
type JSONResponse struct {
	// Code is 0 on success, otherwise an errs code.
	Code int `json:"code"`

	// Message is "success" or the client message of the error.
	Message string `json:"message"`

	// Data carries socket maps and instance info.
	Data any `json:"data,omitempty"`
}

// RespondJSON encodes payload and writes it with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(
			err,
			"Error encoding JSON response",
			"http_status", httpStatus,
		)

		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	w.Write(response)
}

// RespondSuccess wraps data in a code 0 envelope.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	res := JSONResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	}
	RespondJSON(w, r, http.StatusOK, res)
}

// RespondError sends the code and message of err. Errors that are not a CustomError
// are logged and reported as ErrUnknown.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		if err != nil {
			logx.Error(err, "Unexpected error reached the HTTP layer")
		}
		customErr = errs.NewError(errs.ErrUnknown)
	}

	res := JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	}
	RespondJSON(w, r, customErr.Status, res)
}
