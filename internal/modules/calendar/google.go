package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleSource reads free/busy and writes events through the Google Calendar API.
type GoogleSource struct {
	svc *gcal.Service
}

func NewGoogleSource(ctx context.Context, credentialsFile string) (*GoogleSource, error) {
	svc, err := gcal.NewService(ctx, option.WithCredentialsFile(credentialsFile), option.WithScopes(gcal.CalendarScope))
	if err != nil {
		return nil, fmt.Errorf("calendar client: %w", err)
	}
	return &GoogleSource{svc: svc}, nil
}

func (g *GoogleSource) Busy(ctx context.Context, calendarID string, from, to time.Time) ([]Period, error) {
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}
	out := make([]Period, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, err
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, err
		}
		out = append(out, Period{Start: start, End: end})
	}
	return out, nil
}

func (g *GoogleSource) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	created, err := g.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (g *GoogleSource) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}
