// ABOUTME: Token subjects identifying an end user or an operator
// ABOUTME: Encoded as "user:<id>" or "agent:<id>" in the sub claim

package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// Subject kinds.
const (
	KindUser  = "user"
	KindAgent = "agent"
)

// Subject is the identity a token was issued to.
type Subject struct {
	Kind string
	ID   int64
}

func (s Subject) String() string {
	return s.Kind + ":" + strconv.FormatInt(s.ID, 10)
}

// ParseSubject parses "user:<id>" or "agent:<id>".
func ParseSubject(sub string) (Subject, error) {
	kind, rawID, ok := strings.Cut(sub, ":")
	if !ok {
		return Subject{}, fmt.Errorf("%w: malformed subject %q", ErrInvalidToken, sub)
	}
	if kind != KindUser && kind != KindAgent {
		return Subject{}, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidToken, kind)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return Subject{}, fmt.Errorf("%w: bad subject id %q", ErrInvalidToken, rawID)
	}
	return Subject{Kind: kind, ID: id}, nil
}
