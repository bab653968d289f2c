// README: CoherenceGuard: validates generated replies against the per-state guidance, regenerates once, then templates.
package coherence

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"concierge/internal/ai"
	"concierge/internal/modules/booking"

	"go.uber.org/zap"
)

type Violation struct {
	Topic  string
	Detail string
}

func (v Violation) String() string {
	return v.Topic + ": " + v.Detail
}

type Validation struct {
	Coherent   bool
	Violations []Violation
}

type Source string

const (
	SourceGenerated   Source = "generated"
	SourceRegenerated Source = "regenerated"
	SourceTemplate    Source = "template"
)

// Request carries everything needed to write, check and if necessary template one reply.
type Request struct {
	State    booking.State
	Data     booking.CollectedData
	Offers   booking.Offers
	Guidance booking.ResponseGuidance
	// ProviderNames are the team members that must not be named before the provider step.
	ProviderNames []string
	// Notice is what this turn has to tell the customer (a summary, a redirect, an apology).
	Notice      string
	UserMessage string
}

type Reply struct {
	Text       string
	Source     Source
	Violations []Violation
}

var (
	clockTimeRe = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\b|\b\d{1,2}\s*(?:am|pm|a\.m\.|p\.m\.)|\b(?:noon|midnight)\b`)
	confirmedRe = regexp.MustCompile(`(?i)\b(?:you(?:'re| are) (?:all )?(?:booked|set)|(?:booking|appointment|reservation) (?:is |has been )?(?:confirmed|booked)|i(?:'ve| have) (?:booked|confirmed))\b`)
	paymentRe   = regexp.MustCompile(`(?i)https?://\S+|\bpayment link\b|\bpay (?:here|now|online)\b`)
)

type Guard struct {
	oracle ai.Oracle
	logger *zap.Logger
}

func NewGuard(oracle ai.Oracle, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{oracle: oracle, logger: logger}
}

// Validate checks a reply against the forbidden topics and required content of the guidance.
func (g *Guard) Validate(reply string, req Request) Validation {
	var out []Violation
	gd := req.Guidance
	lower := strings.ToLower(reply)

	if gd.Forbids(booking.TopicProviderNames) {
		for _, name := range req.ProviderNames {
			if name != "" && containsWord(lower, strings.ToLower(name)) {
				out = append(out, Violation{Topic: string(booking.TopicProviderNames), Detail: fmt.Sprintf("mentions %q before a provider can be chosen", name)})
			}
		}
	}
	if gd.Forbids(booking.TopicClockTimes) {
		if m := clockTimeRe.FindString(reply); m != "" {
			out = append(out, Violation{Topic: string(booking.TopicClockTimes), Detail: fmt.Sprintf("mentions time %q before availability was checked", m)})
		}
	}
	if gd.Forbids(booking.TopicBookingConfirmed) {
		if m := confirmedRe.FindString(reply); m != "" {
			out = append(out, Violation{Topic: string(booking.TopicBookingConfirmed), Detail: fmt.Sprintf("claims %q but nothing is booked yet", m)})
		}
	}
	if gd.Forbids(booking.TopicPaymentLink) {
		if m := paymentRe.FindString(reply); m != "" {
			out = append(out, Violation{Topic: string(booking.TopicPaymentLink), Detail: fmt.Sprintf("mentions payment %q before the booking exists", m)})
		}
	}
	for _, item := range gd.MustShow {
		if !strings.Contains(lower, strings.ToLower(item)) {
			out = append(out, Violation{Topic: "must_show", Detail: fmt.Sprintf("does not show %q", item)})
		}
	}
	if gd.MustAsk != "" && !strings.Contains(reply, "?") {
		out = append(out, Violation{Topic: "must_ask", Detail: "does not ask: " + gd.MustAsk})
	}
	return Validation{Coherent: len(out) == 0, Violations: out}
}

// Respond generates a reply, validates it, regenerates at most once with the violations as a
// correction hint, and otherwise falls back to the deterministic template for the state.
func (g *Guard) Respond(ctx context.Context, req Request) Reply {
	if g.oracle == nil {
		return Reply{Text: Template(req), Source: SourceTemplate}
	}

	text, err := g.oracle.Complete(ctx, replyPrompt(req, nil))
	if err != nil {
		g.logger.Warn("reply oracle failed, using template", zap.String("state", string(req.State)), zap.Error(err))
		return Reply{Text: Template(req), Source: SourceTemplate}
	}
	text = strings.TrimSpace(text)
	v := g.Validate(text, req)
	if v.Coherent {
		return Reply{Text: text, Source: SourceGenerated}
	}

	text, err = g.oracle.Complete(ctx, replyPrompt(req, v.Violations))
	if err != nil {
		g.logger.Warn("reply regeneration failed, using template", zap.String("state", string(req.State)), zap.Error(err))
		return Reply{Text: Template(req), Source: SourceTemplate, Violations: v.Violations}
	}
	text = strings.TrimSpace(text)
	second := g.Validate(text, req)
	if second.Coherent {
		return Reply{Text: text, Source: SourceRegenerated, Violations: v.Violations}
	}
	g.logger.Warn("reply still incoherent after regeneration, using template",
		zap.String("state", string(req.State)),
		zap.Strings("violations", violationStrings(second.Violations)),
	)
	return Reply{Text: Template(req), Source: SourceTemplate, Violations: second.Violations}
}

func violationStrings(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func containsWord(haystack, word string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return strings.Contains(haystack, word)
	}
	return re.MatchString(haystack)
}

var topicRules = map[booking.Topic]string{
	booking.TopicProviderNames:    "do not name any team member",
	booking.TopicClockTimes:       "do not mention any times of day",
	booking.TopicBookingConfirmed: "do not say the appointment is booked or confirmed",
	booking.TopicPaymentLink:      "do not mention payment or links",
}

func replyPrompt(req Request, correction []Violation) string {
	var b strings.Builder
	b.WriteString("You are the booking assistant of a small studio. Write the next chat reply, short and friendly.\n")
	fmt.Fprintf(&b, "Context: %s\n", req.Guidance.ContextHint)
	if req.Notice != "" {
		fmt.Fprintf(&b, "Tell the customer: %s\n", req.Notice)
	}
	if len(req.Guidance.MustShow) > 0 {
		b.WriteString("Show these items exactly as written, as a numbered list:\n")
		for i, item := range req.Guidance.MustShow {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item)
		}
	}
	if req.Guidance.MustAsk != "" {
		fmt.Fprintf(&b, "End by asking: %s\n", req.Guidance.MustAsk)
	}
	for _, t := range req.Guidance.Forbidden {
		fmt.Fprintf(&b, "Rule: %s.\n", topicRules[t])
	}
	if req.UserMessage != "" {
		fmt.Fprintf(&b, "Customer said: %q\n", req.UserMessage)
	}
	if len(correction) > 0 {
		b.WriteString("Your previous reply was rejected. Fix these problems:\n")
		for _, v := range correction {
			fmt.Fprintf(&b, "- %s\n", v)
		}
	}
	b.WriteString("Reply with the message text only.\n")
	return b.String()
}
