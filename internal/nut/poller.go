package nut

import "context"

// Variable holds a single NUT variable name/value pair.
type Variable struct {
	Name  string
	Value string
}

// Device is one entry of a LIST UPS response.
type Device struct {
	Name        string
	Description string
}

// Poller abstracts an authenticated upsd session so the polling loop can be
// driven by a fake in tests. *Client implements it.
type Poller interface {
	ListDevices(ctx context.Context) ([]Device, error)
	Summary(ctx context.Context, ups string) (Summary, error)
	Logout(ctx context.Context) error
	Close() error
}

var _ Poller = (*Client)(nil)
