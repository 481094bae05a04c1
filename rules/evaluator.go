// Package rules evaluates canonical events against the showcase rule.
// Evaluation is pure: the same event, state and config always produce
// the same decision.
package rules

import (
	"regexp"
	"strings"

	"github.com/mkarls/showcased/config"
	"github.com/mkarls/showcased/types"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Evaluator applies the configured showcase rule
type Evaluator struct {
	cfg config.Rule
}

// NewEvaluator creates an evaluator for an immutable rule config
func NewEvaluator(cfg config.Rule) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate decides PASS or VIOLATION for a created/edited event. Checks
// run in fixed order (cooldown, link, description); the first failure is
// the decision's reason. Deleted events never reach this path.
func (e *Evaluator) Evaluate(evt *types.Event, state types.UserState) types.Decision {
	decision := types.Decision{
		EventID:   evt.ID,
		UserID:    evt.AuthorID,
		ChannelID: evt.ChannelID,
		Outcome:   types.OutcomePass,
		CreatedAt: evt.Timestamp,
	}

	if reason, violated := e.check(evt, state); violated {
		decision.Outcome = types.OutcomeViolation
		decision.Reason = reason
	}

	return decision
}

func (e *Evaluator) check(evt *types.Event, state types.UserState) (types.Reason, bool) {
	// cooldown gates new posts only; an edit re-evaluates the post that
	// already occupies its slot
	if evt.Type == types.EventCreated && state.InCooldown(evt.Timestamp) {
		return types.ReasonCooldownActive, true
	}
	if e.cfg.RequireLink && !hasLink(evt) {
		return types.ReasonMissingLink, true
	}
	if e.cfg.RequireDescription && descriptionLength(evt.Content) < e.cfg.MinLength {
		return types.ReasonMissingDescription, true
	}
	return "", false
}

// hasLink reports whether the post carries at least one attachment or an
// embedded URL in its content
func hasLink(evt *types.Event) bool {
	if evt.HasAttachments() {
		return true
	}
	return urlPattern.MatchString(evt.Content)
}

// descriptionLength counts the content runes left after stripping URLs
// and collapsing whitespace
func descriptionLength(content string) int {
	stripped := urlPattern.ReplaceAllString(content, "")
	return len([]rune(strings.Join(strings.Fields(stripped), " ")))
}
