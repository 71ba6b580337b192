package game

import "errors"

// Rules-engine errors. Every transition validates its guards before
// touching the state, so a returned error always leaves the state
// unchanged. These surface to the offending client only.
var (
	ErrRoundNotInProgress = errors.New("round is not in progress")
	ErrUnknownPlayer      = errors.New("player is not seated at this table")
	ErrNotYourTurn        = errors.New("it is not your turn")
	ErrAlreadyActed       = errors.New("you have already drawn this turn")
	ErrMustDrawFirst      = errors.New("you must draw a card first")
	ErrEmptyDiscard       = errors.New("the discard pile is empty")
	ErrCardNotInHand      = errors.New("card is not in your hand")
	ErrInvalidSpread      = errors.New("cards do not form a valid spread")
	ErrInvalidHit         = errors.New("card cannot hit that spread")
	ErrNoSuchSpread       = errors.New("target spread does not exist")
	ErrRestrictedDiscard  = errors.New("cannot discard the card you just picked up")
	ErrDropAfterAction    = errors.New("cannot drop after taking an action")
	ErrDropWhileLocked    = errors.New("cannot drop while hit-locked")
)
