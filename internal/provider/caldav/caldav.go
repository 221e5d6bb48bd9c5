// Package caldav implements the provider capability interface against any
// CalDAV server.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/example/meeting-broker/internal/provider"
)

const meetingIDProperty = "X-MEETING-BROKER-ID"

// basicAuthTransport adds Basic Auth and a stable user agent to every
// request.
type basicAuthTransport struct {
	username  string
	password  string
	transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "meeting-broker/1.0")
	return t.transport.RoundTrip(req)
}

// Client serves the provider.Calendar interface over CalDAV. CalendarIDs are
// calendar collection paths relative to the endpoint.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	endpoint     string
	logger       *slog.Logger
}

// NewClient builds an authenticated CalDAV client for the given endpoint.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Transport: &basicAuthTransport{
		username:  username,
		password:  password,
		transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		logger:       logger,
	}, nil
}

// ReadBusy queries VEVENTs in the range and reports each as a busy interval.
// Events written by the broker carry the owning meeting id in a private
// property, which becomes the interval source.
func (c *Client) ReadBusy(ctx context.Context, calendarID string, from, to time.Time) ([]provider.RawBusy, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("caldav query for %s: %w", calendarID, err)
	}

	var busy []provider.RawBusy
	for _, object := range objects {
		for _, component := range object.Data.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			start, err := component.Props.DateTime(ical.PropDateTimeStart, time.UTC)
			if err != nil {
				continue
			}
			end, err := component.Props.DateTime(ical.PropDateTimeEnd, time.UTC)
			if err != nil {
				continue
			}
			source := calendarID
			if prop := component.Props.Get(meetingIDProperty); prop != nil {
				source = prop.Value
			}
			busy = append(busy, provider.RawBusy{Start: start, End: end, Source: source})
		}
	}

	c.logger.Debug("read caldav busy intervals", "calendar_id", calendarID, "count", len(busy))
	return busy, nil
}

// CreateBlock writes a VEVENT tagged with the owning meeting id. The returned
// reference is the object path.
func (c *Client) CreateBlock(ctx context.Context, calendarID string, block provider.Block) (string, error) {
	summary := block.Summary
	if summary == "" {
		summary = "Reserved by meeting broker"
	}
	uid := uuid.New().String()

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, block.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, block.End.UTC())
	event.Props.SetText(meetingIDProperty, block.Source)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//meeting-broker//EN")
	cal.Children = append(cal.Children, event)

	objectPath := path.Join(calendarID, uid+".ics")
	writer, err := c.webdavClient.Create(ctx, objectPath)
	if err != nil {
		return "", fmt.Errorf("failed to create block on CalDAV server: %w", err)
	}
	defer writer.Close()

	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode block to iCal format: %w", err)
	}

	c.logger.Info("created busy block", "calendar_id", calendarID, "path", objectPath, "meeting_id", block.Source)
	return objectPath, nil
}

// isNotFound reports whether err is an HTTP 404 from the WebDAV server.
// go-webdav wraps non-2xx responses in an unexported error type whose
// message starts with "<code> <status text>", so match on the prefix.
func isNotFound(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "404 ")
}

// DeleteBlock removes a previously created VEVENT object.
func (c *Client) DeleteBlock(ctx context.Context, calendarID string, ref string) error {
	if err := c.webdavClient.RemoveAll(ctx, ref); err != nil {
		if isNotFound(err) {
			return provider.ErrBlockNotFound
		}
		return fmt.Errorf("delete block %s: %w", ref, err)
	}
	return nil
}

// FindCalendars lists the calendar collection paths available to the
// authenticated principal.
func (c *Client) FindCalendars(ctx context.Context) ([]string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	paths := make([]string, 0, len(calendars))
	for _, cal := range calendars {
		paths = append(paths, cal.Path)
	}
	return paths, nil
}
