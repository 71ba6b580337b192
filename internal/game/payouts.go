package game

// ComputePayouts derives the money movement for a finished round from
// how it ended. Loser penalties come on top of the antes already locked
// in the pot.
//
//	REGULAR, DECK_EMPTY  winner takes the pot
//	REEM                 pot + baseStake from every loser
//	AUTO_TRIPLE          pot + 3x baseStake from every loser
//	CAUGHT_DROP          pot + baseStake from the caught dropper
func ComputePayouts(s *State) *Payouts {
	out := &Payouts{WinnerID: s.RoundWinnerID, WinnerAmount: s.Pot}

	var perLoser int64
	switch s.RoundEndedBy {
	case EndReem:
		perLoser = s.BaseStake
	case EndAutoTriple:
		perLoser = 3 * s.BaseStake
	case EndCaughtDrop:
		out.WinnerAmount += s.BaseStake
		out.Penalties = map[string]int64{s.CaughtDroppingPlayerID: s.BaseStake}
		return out
	default:
		return out
	}

	out.Penalties = make(map[string]int64)
	for _, p := range s.Players {
		if p.UserID == s.RoundWinnerID {
			continue
		}
		out.Penalties[p.UserID] = perLoser
		out.WinnerAmount += perLoser
	}
	return out
}
