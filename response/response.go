package response

import (
	"encoding/json"
	"net/http"
)

// V is the envelope for all 2xx responses
type V struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

type errorV struct {
	Error    string      `json:"error"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will write the result with HTTP 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	WriteResponseWithCode(w, r, http.StatusOK, result)
}

// WriteResponseWithCode will write the result with the given status code
func WriteResponseWithCode(w http.ResponseWriter, r *http.Request, code int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(V{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will write the error envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(errorV{
		Error:    e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}
