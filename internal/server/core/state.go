package core

type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// SideForMove returns the side to move for a turn counter, white on even
func SideForMove(moveIndex int) Side {
	if moveIndex%2 == 0 {
		return SideWhite
	}
	return SideBlack
}

func (s Side) Opposite() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusFinished
}
