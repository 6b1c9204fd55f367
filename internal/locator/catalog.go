package locator

import "strings"

// Slack UI catalog. Selectors are listed most specific first; Slack ships
// several generations of markup at once, so most lists carry fallbacks that
// only match older or newer builds.

const presentWord = `(?i)^\W*present\W*$`

// PresentOption returns the strategies for the "present" survey control.
func PresentOption() List {
	return List{
		{Name: "role-radio-name", Kind: Check, Query: Query{Role: "radio", Name: PatternText(presentWord)}},
		{Name: "role-button-name", Kind: Activate, Query: Query{Role: "button", Name: PatternText(presentWord)}},
		{Name: "aria-label", Kind: Activate, Query: Query{Selector: "[aria-label]", AriaLabel: PatternText(presentWord)}},
		{Name: "button-text", Kind: Activate, Query: Query{Selector: `button, [role="button"]`, Text: PatternText(`(?i)^\W*present\b`)}},
		{Name: "label-text", Kind: Activate, Query: Query{Selector: "label", Text: PatternText(`(?i)^\W*present\b`)}},
		{Name: "radio-id", Kind: Check, Query: Query{Selector: `input[type="radio"][id$="-present-0"]`}},
		{Name: "radio-value", Kind: Check, Query: Query{Selector: `input[type="radio"][value="present" i]`}},
		{Name: "radio-aria", Kind: Check, Query: Query{Selector: `input[type="radio"][aria-label*="present" i]`}},
		{Name: "text-node-exact", Kind: Activate, Query: Query{Text: ExactText("Present"), Leaf: true}},
		// Short strings only: the confirmation sentence also contains the word.
		{Name: "text-node-pattern", Kind: Activate, Query: Query{Text: PatternText(`(?i)^\W*present\b[^.]{0,24}$`), Leaf: true}},
	}
}

// SurveyCard matches message containers carrying the survey prompt and at
// least one control. Containers nest, so the most recent match is the
// innermost card of the newest message.
func SurveyCard(prompt string) Query {
	return Query{
		Selector: `[data-qa="message_container"], .c-message_kit__background, [role="listitem"], .c-virtual_list__item`,
		Text:     PatternText(prompt),
		Has:      `input[type="radio"], [role="radio"], button`,
	}
}

// ClosedSurvey detects the banner posted once the survey stops accepting answers.
func ClosedSurvey() List {
	return List{
		{Name: "closed-rich-text", Query: Query{Selector: "div.p-rich_text_section", Text: PatternText(`(?i)survey is closed`)}},
		{Name: "closed-text", Query: Query{Text: PatternText(`(?i)survey is closed`), Leaf: true}},
	}
}

// ConfirmationText is the acknowledgement the survey app posts.
const ConfirmationText = "Your selection (present) has been recorded successfully"

// Confirmation counts acknowledgement messages.
func Confirmation() List {
	return List{
		{Name: "confirmation-rich-text", Query: Query{Selector: "div.p-rich_text_section", Text: ContainsText(ConfirmationText)}},
		{Name: "confirmation-text", Query: Query{Text: PatternText(`(?i)selection \(present\) has been recorded`), Leaf: true}},
	}
}

// ContentMarkers signal that the channel view has rendered.
func ContentMarkers() List {
	return List{
		{Name: "message-pane", Query: Query{Selector: `[data-qa="message_pane"]`}},
		{Name: "virtual-list", Query: Query{Selector: `[data-qa="virtual-list"]`}},
		{Name: "message-pane-class", Query: Query{Selector: ".p-message_pane"}},
		{Name: "message-input", Query: Query{Selector: `[data-qa="message_input"]`}},
		{Name: "virtual-list-item", Query: Query{Selector: ".c-virtual_list__item"}},
		{Name: "channel-name", Query: Query{Selector: `[data-qa="channel_name"]`}},
	}
}

// ConsentOverlays are banners and interstitials that block the channel view.
func ConsentOverlays() List {
	return List{
		{Name: "onetrust-accept", Kind: Activate, Query: Query{Selector: "#onetrust-accept-btn-handler", VisibleOnly: true, Frames: true}},
		{Name: "accept-cookies", Kind: Activate, Query: Query{Selector: `button, [role="button"]`, Text: PatternText(`(?i)accept all cookies`), VisibleOnly: true, Frames: true}},
		{Name: "use-browser", Kind: Activate, Query: Query{Selector: `a, button`, Text: PatternText(`(?i)use slack in your browser`), VisibleOnly: true, Frames: true}},
	}
}

// AuthSubmit finds the button that advances a sign-in form.
func AuthSubmit() List {
	return List{
		{Name: "signin-button", Kind: Activate, Query: Query{Selector: `[data-qa="signin_button"]`, VisibleOnly: true}},
		{Name: "submit-button", Kind: Activate, Query: Query{Selector: `button[type="submit"]`, VisibleOnly: true}},
		{Name: "continue-button", Kind: Activate, Query: Query{Selector: "button", Text: PatternText(`(?i)^(continue|verify|submit|sign in|next)\b`), VisibleOnly: true}},
	}
}

// EmailField and PasswordField locate the password sign-in inputs.
func EmailField() List {
	return List{
		{Name: "email-input", Query: Query{Selector: `input[type="email"]`, VisibleOnly: true}},
		{Name: "email-name", Query: Query{Selector: `input[name="email"]`, VisibleOnly: true}},
	}
}

func PasswordField() List {
	return List{
		{Name: "password-input", Query: Query{Selector: `input[type="password"]`, VisibleOnly: true}},
	}
}

// CodeFields matches one-time security code inputs. Multi-box widgets
// render one input per digit.
func CodeFields() Query {
	return Query{
		Selector:    `input[autocomplete="one-time-code"], input[inputmode="numeric"], input[name*="code"], input[id*="code"]`,
		VisibleOnly: true,
	}
}

// WorkspaceScreen recognises the "find your workspace" step.
func WorkspaceScreen() List {
	return List{
		{Name: "domain-input", Query: Query{Selector: `input[data-qa="signin_domain_input"]`}},
		{Name: "domain-name", Query: Query{Selector: `input[name="domain"]`}},
		{Name: "find-workspace", Query: Query{Selector: "h1, h2", Text: PatternText(`(?i)(find|sign in to) your workspace`)}},
	}
}

// WorkspaceInput is where a workspace candidate is typed.
func WorkspaceInput() List {
	return List{
		{Name: "domain-input", Query: Query{Selector: `input[data-qa="signin_domain_input"]`, VisibleOnly: true}},
		{Name: "domain-name", Query: Query{Selector: `input[name="domain"]`, VisibleOnly: true}},
		{Name: "text-input", Query: Query{Selector: `input[type="text"], input[type="email"]`, VisibleOnly: true}},
	}
}

// WorkspaceLink finds a direct link to the workspace on a chooser page.
func WorkspaceLink(workspace, host string) List {
	slug := strings.ToLower(workspace)
	return List{
		{Name: "workspace-href", Kind: Activate, Query: Query{Selector: `a[href*="` + cssEscape(host) + `"]`, VisibleOnly: true}},
		{Name: "workspace-name", Kind: Activate, Query: Query{Selector: `a, button, [role="button"]`, Text: ContainsText(slug), VisibleOnly: true}},
	}
}

func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
