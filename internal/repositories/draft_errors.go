package repositories

import "errors"

// ErrDraftStatusFinal indicates the draft already left the pending state.
var ErrDraftStatusFinal = errors.New("draft repository: draft status is final")
