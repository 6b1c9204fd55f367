package attendance

// Outcome is the terminal result of one attendance run. It is produced once
// and never changed afterwards.
type Outcome int

const (
	// Unknown is the zero value and never returned by the engine.
	Unknown Outcome = iota
	PresentRecorded
	SurveyClosed
	PresentOptionNotFound
	NoConfirmationAfterClick
	ChannelContentNotAvailable
	SessionReauthRequired
	ChannelGlitchPage
)

var outcomeTags = map[Outcome]string{
	PresentRecorded:            "PRESENT_RECORDED",
	SurveyClosed:               "SURVEY_CLOSED",
	PresentOptionNotFound:      "PRESENT_OPTION_NOT_FOUND",
	NoConfirmationAfterClick:   "NO_CONFIRMATION_AFTER_CLICK",
	ChannelContentNotAvailable: "CHANNEL_CONTENT_NOT_AVAILABLE",
	SessionReauthRequired:      "SESSION_REAUTH_REQUIRED",
	ChannelGlitchPage:          "CHANNEL_GLITCH_PAGE",
}

// String returns the stable tag logged for the outcome.
func (o Outcome) String() string {
	if s, ok := outcomeTags[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// Success reports whether the run counts as done. A closed survey is
// success: there is nothing left to answer.
func (o Outcome) Success() bool {
	return o == PresentRecorded || o == SurveyClosed
}

// ParseOutcome maps a tag back to its Outcome, for the run ledger.
func ParseOutcome(s string) (Outcome, bool) {
	for o, tag := range outcomeTags {
		if tag == s {
			return o, true
		}
	}
	return Unknown, false
}
