package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"
)

// CalendarInfo describes one calendar membership from the remote service.
type CalendarInfo struct {
	ID      string
	Name    string
	Primary bool
	Enabled bool
}

// ChangeSet is the result of one FetchChanges call.
type ChangeSet struct {
	Events        []RawEvent
	NextSyncToken string
	// FullSync is true when the events were produced by a windowed full
	// fetch (no usable sync token).
	FullSync bool
}

// ListCalendars returns the account's calendar memberships. Hidden and
// deleted entries are reported as disabled so the local store can keep
// their descriptors without fetching them.
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var infos []CalendarInfo
	pageToken := ""

	for {
		call := c.svc.CalendarList.List().Context(ctx).MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list calendars: %w", err)
		}

		for _, entry := range resp.Items {
			name := entry.Summary
			if entry.SummaryOverride != "" {
				name = entry.SummaryOverride
			}
			infos = append(infos, CalendarInfo{
				ID:      entry.Id,
				Name:    name,
				Primary: entry.Primary,
				Enabled: entry.Selected && !entry.Deleted,
			})
		}

		if resp.NextPageToken == "" {
			return infos, nil
		}
		pageToken = resp.NextPageToken
	}
}

// FetchChanges fetches events for one calendar. With an empty syncToken it
// performs a windowed full fetch; otherwise it requests only changes since
// the token. A token the service reports as expired triggers exactly one
// transparent full-fetch retry, so callers only ever observe a successful
// result or a genuine error.
func (c *Client) FetchChanges(ctx context.Context, calendarID, syncToken string) (*ChangeSet, error) {
	if syncToken == "" {
		return c.fullFetch(ctx, calendarID)
	}

	cs, err := c.incrementalFetch(ctx, calendarID, syncToken)
	if err != nil {
		if isTokenInvalidated(err) {
			slog.Debug("sync token invalidated, falling back to full fetch",
				"calendar", calendarID)
			return c.fullFetch(ctx, calendarID)
		}
		return nil, err
	}
	return cs, nil
}

func (c *Client) fullFetch(ctx context.Context, calendarID string) (*ChangeSet, error) {
	now := c.now()
	timeMin := now.Add(-c.windowBack)
	timeMax := now.Add(c.windowForward)

	cs := &ChangeSet{FullSync: true}
	pageToken := ""

	for {
		call := c.svc.Events.List(calendarID).
			Context(ctx).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(false).
			ShowDeleted(true).
			MaxResults(2500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("full fetch %s: %w", calendarID, err)
		}

		cs.Events = append(cs.Events, convertItems(calendarID, resp.Items)...)

		if resp.NextPageToken != "" {
			pageToken = resp.NextPageToken
			continue
		}
		cs.NextSyncToken = resp.NextSyncToken
		return cs, nil
	}
}

func (c *Client) incrementalFetch(ctx context.Context, calendarID, syncToken string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	pageToken := ""

	for {
		call := c.svc.Events.List(calendarID).
			Context(ctx).
			ShowDeleted(true).
			MaxResults(2500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		} else {
			call = call.SyncToken(syncToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("incremental fetch %s: %w", calendarID, err)
		}

		cs.Events = append(cs.Events, convertItems(calendarID, resp.Items)...)

		if resp.NextPageToken != "" {
			pageToken = resp.NextPageToken
			continue
		}
		cs.NextSyncToken = resp.NextSyncToken
		return cs, nil
	}
}

// convertItems converts a page of API events, skipping malformed records.
// One bad payload never aborts the batch.
func convertItems(calendarID string, items []*calendar.Event) []RawEvent {
	out := make([]RawEvent, 0, len(items))
	for _, item := range items {
		raw, err := fromAPIEvent(item)
		if err != nil {
			slog.Warn("skipping malformed event", "calendar", calendarID, "error", err)
			continue
		}
		out = append(out, raw)
	}
	return out
}
