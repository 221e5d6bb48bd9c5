// Package google implements the provider capability interface on top of the
// Google Calendar API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/example/meeting-broker/internal/provider"
)

const meetingIDProperty = "meetingBrokerID"

// Client serves the provider.Calendar interface for Google calendars.
type Client struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient builds an authenticated client from OAuth credentials and a
// previously saved token file.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenFile string) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     googleoauth.Endpoint,
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token from %s: %w", tokenFile, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service, logger: logger}, nil
}

// ReadBusy queries the FreeBusy endpoint for the calendar's busy periods.
func (c *Client) ReadBusy(ctx context.Context, calendarID string, from, to time.Time) ([]provider.RawBusy, error) {
	c.logger.Debug("querying free/busy", "calendar_id", calendarID, "from", from, "to", to)

	resp, err := c.service.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query for %s: %w", calendarID, err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("freebusy response missing calendar %s", calendarID)
	}

	busy := make([]provider.RawBusy, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", period.End, err)
		}
		busy = append(busy, provider.RawBusy{Start: start, End: end, Source: calendarID})
	}

	// FreeBusy does not attribute periods to events, so blocks the broker
	// itself created are re-read via events tagged with the meeting id and
	// their source corrected.
	tagged, err := c.readTaggedEvents(ctx, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	busy = retagOwnBlocks(busy, tagged)

	return busy, nil
}

// readTaggedEvents lists events carrying the broker's private meeting-id
// property.
func (c *Client) readTaggedEvents(ctx context.Context, calendarID string, from, to time.Time) ([]provider.RawBusy, error) {
	events, err := c.service.Events.List(calendarID).
		SingleEvents(true).
		ShowDeleted(false).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", calendarID, err)
	}

	var tagged []provider.RawBusy
	for _, item := range events.Items {
		if item.Start == nil || item.Start.DateTime == "" || item.ExtendedProperties == nil {
			continue
		}
		meetingID, ok := item.ExtendedProperties.Private[meetingIDProperty]
		if !ok {
			continue
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			continue
		}
		tagged = append(tagged, provider.RawBusy{Start: start, End: end, Source: meetingID})
	}
	return tagged, nil
}

// retagOwnBlocks replaces the source of busy periods that exactly match a
// broker-created event with the owning meeting id.
func retagOwnBlocks(busy, tagged []provider.RawBusy) []provider.RawBusy {
	if len(tagged) == 0 {
		return busy
	}
	out := make([]provider.RawBusy, 0, len(busy))
	for _, period := range busy {
		source := period.Source
		for _, own := range tagged {
			if period.Start.Equal(own.Start) && period.End.Equal(own.End) {
				source = own.Source
				break
			}
		}
		out = append(out, provider.RawBusy{Start: period.Start, End: period.End, Source: source})
	}
	return out
}

// CreateBlock inserts an event tagged with the owning meeting id.
func (c *Client) CreateBlock(ctx context.Context, calendarID string, block provider.Block) (string, error) {
	summary := block.Summary
	if summary == "" {
		summary = "Reserved by meeting broker"
	}

	event, err := c.service.Events.Insert(calendarID, &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{DateTime: block.Start.UTC().Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: block.End.UTC().Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{meetingIDProperty: block.Source},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert block on %s: %w", calendarID, err)
	}

	c.logger.Info("created busy block", "calendar_id", calendarID, "event_id", event.Id, "meeting_id", block.Source)
	return event.Id, nil
}

// DeleteBlock removes a previously created event.
func (c *Client) DeleteBlock(ctx context.Context, calendarID string, ref string) error {
	err := c.service.Events.Delete(calendarID, ref).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return provider.ErrBlockNotFound
		}
		return fmt.Errorf("delete block %s on %s: %w", ref, calendarID, err)
	}
	return nil
}

// SaveToken persists an OAuth token for later client construction.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
