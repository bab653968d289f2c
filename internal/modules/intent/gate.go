// README: IntentGate: deterministic pre-parse, state-scoped oracle prompt, and slot normalization.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"concierge/internal/ai"
	"concierge/internal/modules/booking"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MinConfidence is the floor below which an oracle classification is treated as Unknown.
const MinConfidence = 0.35

// Turn is one line of recent history fed into the prompt.
type Turn struct {
	Role string
	Text string
}

type Input struct {
	Message string
	State   booking.State
	Data    booking.CollectedData
	Offers  booking.Offers
	History []Turn
}

type Gate struct {
	oracle ai.Oracle
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(oracle ai.Oracle, loc *time.Location, logger *zap.Logger) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{oracle: oracle, loc: loc, logger: logger, now: time.Now}
}

// Extract never fails: an unusable oracle answer yields Unknown with zero confidence.
func (g *Gate) Extract(ctx context.Context, in Input) booking.Intent {
	if it, ok := preParse(in); ok {
		return it
	}
	if g.oracle == nil {
		return unknown(in.Message)
	}

	raw, err := g.oracle.Complete(ctx, buildPrompt(in, g.now().In(g.loc)))
	if err != nil {
		g.logger.Warn("intent oracle failed", zap.String("state", string(in.State)), zap.Error(err))
		return unknown(in.Message)
	}

	var out oracleIntent
	if err := json.Unmarshal([]byte(ai.CleanJSON(raw)), &out); err != nil {
		g.logger.Warn("intent oracle returned unparseable output", zap.String("state", string(in.State)), zap.Error(err))
		return unknown(in.Message)
	}
	it := g.fromOracle(in, out)
	g.logger.Debug("intent extracted",
		zap.String("state", string(in.State)),
		zap.String("intent", string(it.Type)),
		zap.Float64("confidence", it.Confidence),
	)
	return it
}

// oracleIntent is the JSON shape requested in the prompt.
type oracleIntent struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Services   []string `json:"services"`
	Provider   string   `json:"provider"`
	Date       string   `json:"date"`
	Time       string   `json:"time"`
	Start      string   `json:"start"`
	Name       string   `json:"name"`
	Notes      string   `json:"notes"`
}

func (g *Gate) fromOracle(in Input, out oracleIntent) booking.Intent {
	it := booking.Intent{
		Type:       booking.ParseIntentType(strings.ToLower(strings.TrimSpace(out.Intent))),
		Confidence: clamp(out.Confidence),
		RawText:    in.Message,
		Entities:   booking.NoEntities{},
	}
	if it.Type == booking.IntentUnknown || it.Confidence < MinConfidence {
		return unknown(in.Message)
	}

	switch it.Type {
	case booking.IntentSelectService:
		it.Entities = booking.ServiceEntities{Services: trimAll(out.Services)}
	case booking.IntentSelectProvider:
		it.Entities = booking.ProviderEntities{ProviderName: strings.TrimSpace(out.Provider)}
	case booking.IntentCheckAvailability:
		it.Entities = booking.AvailabilityEntities{Date: out.Date, TimeText: out.Time}
	case booking.IntentSelectSlot:
		start, ok := concreteStart(in.Message, out.Start, g.loc)
		if !ok {
			g.logger.Info("slot pick is not a concrete time, checking availability instead",
				zap.String("text", out.Time), zap.String("start", out.Start))
			it.Type = booking.IntentCheckAvailability
			it.Entities = booking.AvailabilityEntities{Date: out.Date, TimeText: out.Time}
			break
		}
		it.Entities = booking.SlotEntities{Start: &start, Date: out.Date, TimeText: out.Time, Concrete: true}
	case booking.IntentProvideCustomerData:
		it.Entities = booking.CustomerEntities{Name: strings.TrimSpace(out.Name), Notes: strings.TrimSpace(out.Notes)}
	}
	return it
}

func unknown(msg string) booking.Intent {
	return booking.Intent{Type: booking.IntentUnknown, Entities: booking.NoEntities{}, Confidence: 0, RawText: msg}
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	numberRe = regexp.MustCompile(`^(?:#|no\.?\s*|number\s+|option\s+)?(\d{1,2})[.)]?$`)
	ordinals = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"the first": 1, "the second": 2, "the third": 3, "the fourth": 4, "the fifth": 5,
		"the first one": 1, "the second one": 2, "the third one": 3,
	}
	yesWords    = words("yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "correct", "go ahead", "please do", "sounds good", "perfect")
	noWords     = words("no", "n", "nope", "nah", "not really")
	doneWords   = words("done", "that's all", "thats all", "that's it", "thats it", "nothing else", "that is all")
	cancelWords = words("cancel", "cancel it", "cancel booking", "cancel the booking", "stop", "never mind", "nevermind", "forget it", "start over")
)

func words(ws ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		m[w] = struct{}{}
	}
	return m
}

func normalizeText(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	s = strings.TrimRight(s, "!.? ")
	return strings.Join(strings.Fields(s), " ")
}

// preParse resolves short replies whose meaning depends only on the state and the option list
// last shown in it. It never consults the oracle.
func preParse(in Input) (booking.Intent, bool) {
	text := normalizeText(in.Message)
	if text == "" {
		return unknown(in.Message), true
	}
	sure := func(t booking.IntentType, e booking.Entities) (booking.Intent, bool) {
		return booking.Intent{Type: t, Entities: e, Confidence: 1, RawText: in.Message}, true
	}

	if _, ok := cancelWords[text]; ok {
		return sure(booking.IntentCancelBooking, booking.NoEntities{})
	}

	if n, ok := choiceNumber(text); ok {
		offer, found := in.Offers.Pick(in.State, n)
		if !found {
			// A bare number with no list behind it carries no meaning.
			return unknown(in.Message), true
		}
		switch in.State {
		case booking.StateServiceSelection:
			return sure(booking.IntentSelectService, booking.ServiceEntities{Services: []string{offer.ID}})
		case booking.StateProviderSelection:
			return sure(booking.IntentSelectProvider, booking.ProviderEntities{ProviderID: offer.ID, ProviderName: offer.Label})
		case booking.StateSlotSelection:
			if offer.Start == nil {
				return unknown(in.Message), true
			}
			start := *offer.Start
			return sure(booking.IntentSelectSlot, booking.SlotEntities{
				Start:           &start,
				DurationMinutes: offer.DurationMinutes,
				TimeText:        offer.Label,
				Concrete:        true,
			})
		}
		return unknown(in.Message), true
	}

	_, yes := yesWords[text]
	_, no := noWords[text]
	_, done := doneWords[text]
	switch in.State {
	case booking.StateIdle:
		if yes {
			return sure(booking.IntentStartBooking, booking.NoEntities{})
		}
	case booking.StateServiceSelection:
		if yes || done {
			return sure(booking.IntentConfirmServices, booking.NoEntities{})
		}
	case booking.StateConfirmation:
		if yes {
			return sure(booking.IntentConfirmBooking, booking.NoEntities{})
		}
		if no {
			return sure(booking.IntentCancelBooking, booking.NoEntities{})
		}
	}
	return booking.Intent{}, false
}

func choiceNumber(text string) (int, bool) {
	if n, ok := ordinals[text]; ok {
		return n, true
	}
	m := numberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
