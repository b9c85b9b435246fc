package response

// StatusCode represents HTTP status codes
type StatusCode int

const (
	StatusOK                          StatusCode = 200
	StatusNotModified                 StatusCode = 304
	StatusBadRequest                  StatusCode = 400
	StatusForbidden                   StatusCode = 403
	StatusNotFound                    StatusCode = 404
	StatusMethodNotAllowed            StatusCode = 405
	StatusRequestTimeout              StatusCode = 408
	StatusRequestEntityTooLarge       StatusCode = 413
	StatusRequestHeaderFieldsTooLarge StatusCode = 431
	StatusInternalServerError         StatusCode = 500
	StatusHTTPVersionNotSupported     StatusCode = 505
)

// statusText maps status codes to reason phrases
var statusText = map[StatusCode]string{
	StatusOK:                          "OK",
	StatusNotModified:                 "Not Modified",
	StatusBadRequest:                  "Bad Request",
	StatusForbidden:                   "Forbidden",
	StatusNotFound:                    "Not Found",
	StatusMethodNotAllowed:            "Method Not Allowed",
	StatusRequestTimeout:              "Request Timeout",
	StatusRequestEntityTooLarge:       "Payload Too Large",
	StatusRequestHeaderFieldsTooLarge: "Request Header Fields Too Large",
	StatusInternalServerError:         "Internal Server Error",
	StatusHTTPVersionNotSupported:     "HTTP Version Not Supported",
}

// StatusText returns the text description for a status code
func StatusText(code StatusCode) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown Status"
}

// IsClientError returns true for 4xx status codes
func (code StatusCode) IsClientError() bool {
	return code >= 400 && code < 500
}

// IsServerError returns true for 5xx status codes
func (code StatusCode) IsServerError() bool {
	return code >= 500 && code < 600
}

// IsError returns true for 4xx or 5xx status codes
func (code StatusCode) IsError() bool {
	return code.IsClientError() || code.IsServerError()
}
