package domain

import "errors"

// Rejection taxonomy shared by the hub-authoritative manager and the
// peer-authoritative machine. All rejections are local: a rejected move never
// mutates state and never reaches the opponent.
var (
	ErrNotYourTurn  = errors.New("not your turn")
	ErrIllegalMove  = errors.New("illegal move")
	ErrSessionEnded = errors.New("session already ended")
	ErrNotInSession = errors.New("participant has no active session")
	ErrSelfPairing  = errors.New("participant cannot be paired with itself")
)
