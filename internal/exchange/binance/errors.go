package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trady/internal/core"
)

const (
	apiCodeInvalidSymbol    = -1121
	apiCodeMarginTypeNoNeed = -4046
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// APIError is a non-2xx response carrying a Binance error body.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e APIError) Error() string {
	return fmt.Sprintf("binance api error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

func (e APIError) Is(target error) bool { return target == core.ErrUpstream }

// HTTPError is a non-2xx response whose body is not a Binance error document.
type HTTPError struct {
	Status int
	Body   string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("binance http error %d: %s", e.Status, e.Body)
}

func (e HTTPError) Is(target error) bool { return target == core.ErrUpstream }

func parseAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return classifyAPIError(APIError{Status: status, Code: apiErr.Code, Msg: apiErr.Msg})
	}
	return HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
}

func classifyAPIError(apiErr APIError) error {
	switch apiErr.Code {
	case apiCodeInvalidSymbol:
		return errors.Join(apiErr, core.ErrUnknownSymbol)
	}
	return apiErr
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}

func IsAPIErrorCode(err error, codes ...int) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}
