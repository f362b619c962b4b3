// Package email forwards important notifications to recipients by email,
// through one of several delivery providers.
package email

import (
	"context"
	"sort"
	"strings"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Directory maps recipient ids to email addresses.
type Directory interface {
	Address(recipientID string) (string, bool)
}

// StaticDirectory is a fixed recipient id to address map.
type StaticDirectory map[string]string

// Address returns the address configured for recipientID.
func (d StaticDirectory) Address(recipientID string) (string, bool) {
	addr, ok := d[recipientID]
	addr = strings.TrimSpace(addr)
	return addr, ok && addr != ""
}

// Recipients returns the configured recipient ids in sorted order.
func (d StaticDirectory) Recipients() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
