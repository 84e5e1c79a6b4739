// Typed wrappers over the Moonraker printer-object API.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"encoding/json"

	amserr "ams-host/pkg/errors"
)

// NotifyStatusUpdate is the push method Moonraker uses for subscribed
// printer-object changes.
const NotifyStatusUpdate = "notify_status_update"

// ServerInfo returns the server.info result.
func (c *Client) ServerInfo(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "server.info", nil)
}

// ObjectsList returns the available printer object names.
func (c *Client) ObjectsList(ctx context.Context) ([]string, error) {
	raw, err := c.Call(ctx, "printer.objects.list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Objects []string `json:"objects"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, amserr.TransportError(err, "printer.objects.list")
	}
	return result.Objects, nil
}

// ObjectsQuery fetches the current status of the named objects. A nil
// field list requests every field of that object.
func (c *Client) ObjectsQuery(ctx context.Context, objects map[string][]string) (map[string]json.RawMessage, error) {
	raw, err := c.Call(ctx, "printer.objects.query", map[string]any{"objects": objects})
	if err != nil {
		return nil, err
	}
	return decodeStatus(raw, "printer.objects.query")
}

// ObjectsSubscribe subscribes to status updates for the named objects
// and returns the initial snapshot. Updates arrive afterwards through
// NotifyStatusUpdate notifications.
func (c *Client) ObjectsSubscribe(ctx context.Context, objects map[string][]string) (map[string]json.RawMessage, error) {
	raw, err := c.Call(ctx, "printer.objects.subscribe", map[string]any{"objects": objects})
	if err != nil {
		return nil, err
	}
	return decodeStatus(raw, "printer.objects.subscribe")
}

func decodeStatus(raw json.RawMessage, op string) (map[string]json.RawMessage, error) {
	var result struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, amserr.TransportError(err, op)
	}
	return result.Status, nil
}
