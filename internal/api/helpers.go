package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/WardBrian/tinystan/pkg/jsondata"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

// writeFitError writes err with the status of its kind.
func writeFitError(c *echo.Context, err error) error {
	status, _ := errorStatus(err)
	re := toResponseError(err)
	return writeError(c, status, re.Type, re.Message, "", re.Code)
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// jsonObject returns raw as data text for the engine. Only objects are
// accepted, so a request can never name a file on the server.
func jsonObject(field string, raw json.RawMessage) (string, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] != '{' {
		return "", newInvalidRequest("%s must be a JSON object", field)
	}
	return string(b), nil
}

// joinInits converts request inits to the engine's separator-joined form.
func joinInits(inits []json.RawMessage) (string, error) {
	docs := make([]string, 0, len(inits))
	for _, raw := range inits {
		doc, err := jsonObject("inits", raw)
		if err != nil {
			return "", err
		}
		if doc == "" {
			doc = "{}"
		}
		docs = append(docs, doc)
	}
	return jsondata.JoinInits(docs), nil
}

func newFitID() string {
	return "fit_" + uuid.NewString()
}
