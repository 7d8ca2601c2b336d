package memory

import (
	"fmt"
	"net/http"
	"strings"
)

// StaticAuthenticator maps fixed bearer tokens to caller ids (dev/tests).
type StaticAuthenticator struct {
	tokens map[string]string
}

func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	return &StaticAuthenticator{tokens: tokens}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return "", fmt.Errorf("missing bearer credential")
	}
	userID, ok := a.tokens[token]
	if !ok {
		return "", fmt.Errorf("unknown credential")
	}
	return userID, nil
}
