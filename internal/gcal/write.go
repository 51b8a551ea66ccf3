package gcal

import (
	"context"
	"fmt"
)

// CreateEvent creates an event and returns the remote copy (with assigned
// id and etag).
func (c *Client) CreateEvent(ctx context.Context, calendarID string, e RawEvent) (RawEvent, error) {
	created, err := c.svc.Events.Insert(calendarID, toAPIEvent(e)).Context(ctx).Do()
	if err != nil {
		return RawEvent{}, fmt.Errorf("create event: %w", err)
	}
	return fromAPIEvent(created)
}

// UpdateEvent updates an event conditionally on its etag. A stale etag
// yields a VersionMismatchError carrying the remote's current copy.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID, etag string, e RawEvent) (RawEvent, error) {
	call := c.svc.Events.Update(calendarID, eventID, toAPIEvent(e)).Context(ctx)
	if etag != "" {
		call.Header().Set("If-Match", etag)
	}

	updated, err := call.Do()
	if err != nil {
		if isConflictStatus(err) {
			return RawEvent{}, c.versionMismatch(ctx, calendarID, eventID)
		}
		return RawEvent{}, fmt.Errorf("update event: %w", err)
	}
	return fromAPIEvent(updated)
}

// DeleteEvent deletes an event conditionally on its etag. Deleting an event
// that is already gone counts as success.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID, etag string) error {
	call := c.svc.Events.Delete(calendarID, eventID).Context(ctx)
	if etag != "" {
		call.Header().Set("If-Match", etag)
	}

	if err := call.Do(); err != nil {
		if isNotFound(err) {
			return nil
		}
		if isConflictStatus(err) {
			return c.versionMismatch(ctx, calendarID, eventID)
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// versionMismatch builds the mismatch error, attaching the remote's current
// copy when it can still be fetched.
func (c *Client) versionMismatch(ctx context.Context, calendarID, eventID string) error {
	vm := &VersionMismatchError{EventID: eventID}

	current, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		if raw, convErr := fromAPIEvent(current); convErr == nil {
			vm.Remote = &raw
		}
	}
	return vm
}
