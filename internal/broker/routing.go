package broker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Core NATS subjects; delivery is at-most-once like the local hub.
const (
	SubjectPrefix   = "NOTIFY.user"
	SubjectAllUsers = SubjectPrefix + ".*"
)

// UserSubject is the subject carrying events for one user.
func UserSubject(userID uuid.UUID) string {
	return SubjectPrefix + "." + userID.String()
}

// UserFromSubject parses the user id out of a per-user subject.
func UserFromSubject(subject string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix+".")
	if !ok {
		return uuid.UUID{}, fmt.Errorf("unexpected subject %q", subject)
	}
	return uuid.Parse(rest)
}
