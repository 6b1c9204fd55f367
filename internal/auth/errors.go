package auth

import "errors"

// Tag is the stable name logged for a failure. Log consumers match on these,
// so they never change once published.
type Tag string

const (
	TagCredentialsMissing              Tag = "CREDENTIALS_MISSING"
	TagSecurityCodeInteractiveDisabled Tag = "SECURITY_CODE_REQUIRED_INTERACTIVE_DISABLED"
	TagSecurityCodeNonInteractiveStdin Tag = "SECURITY_CODE_REQUIRED_NON_INTERACTIVE_STDIN"
	TagSecurityCodeEmpty               Tag = "SECURITY_CODE_EMPTY"
	TagLoginNotConfirmed               Tag = "LOGIN_NOT_CONFIRMED"
	TagWorkspaceResolutionExhausted    Tag = "WORKSPACE_RESOLUTION_EXHAUSTED"
	TagSessionInvalid                  Tag = "SESSION_INVALID"
	TagUnexpected                      Tag = "UNEXPECTED_ERROR"
)

var (
	// ErrCredentialsMissing: email or password is not configured.
	ErrCredentialsMissing = errors.New("slack credentials are not configured")
	// ErrSecurityCodeInteractiveDisabled: Slack asked for a one-time code but
	// interactive login is off. No prompt is shown.
	ErrSecurityCodeInteractiveDisabled = errors.New("security code required, but interactive login is disabled")
	// ErrSecurityCodeNonInteractiveStdin: a code is needed but stdin is not a
	// terminal, so nobody could type it.
	ErrSecurityCodeNonInteractiveStdin = errors.New("security code required, but stdin is not interactive")
	ErrSecurityCodeEmpty               = errors.New("security code was empty")
	// ErrLoginNotConfirmed: the client URL never held for the stability window.
	ErrLoginNotConfirmed = errors.New("login did not reach a stable authenticated client")
	// ErrWorkspaceResolutionExhausted: the attempt cap was reached.
	ErrWorkspaceResolutionExhausted = errors.New("workspace resolution attempts exhausted")
	// ErrSessionInvalid: the stored session still fails validation after a login.
	ErrSessionInvalid = errors.New("stored session is not usable")
)

var tags = []struct {
	err error
	tag Tag
}{
	{ErrCredentialsMissing, TagCredentialsMissing},
	{ErrSecurityCodeInteractiveDisabled, TagSecurityCodeInteractiveDisabled},
	{ErrSecurityCodeNonInteractiveStdin, TagSecurityCodeNonInteractiveStdin},
	{ErrSecurityCodeEmpty, TagSecurityCodeEmpty},
	{ErrLoginNotConfirmed, TagLoginNotConfirmed},
	{ErrWorkspaceResolutionExhausted, TagWorkspaceResolutionExhausted},
	{ErrSessionInvalid, TagSessionInvalid},
}

// TagOf returns the tag for the first taxonomy member err wraps.
func TagOf(err error) Tag {
	for _, t := range tags {
		if errors.Is(err, t.err) {
			return t.tag
		}
	}
	return TagUnexpected
}

// Fatal reports whether err ends the run without a retry. Only
// ErrSessionInvalid is recoverable, and only once per run.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrSessionInvalid)
}
