package service

// AttemptGuard decides whether another join attempt is allowed for key.
type AttemptGuard interface {
	Allow(key string) bool
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

func attemptKey(eventID, participantID string) string {
	return eventID + "|" + participantID
}
