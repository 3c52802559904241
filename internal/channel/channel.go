// Package channel derives the identifiers shared by both participants of a
// conversation without any server lookup.
package channel

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Provider-side channel and call types.
const (
	ChatType = "messaging"
	CallType = "default"
)

// MaxIDLength is the longest channel id the provider accepts.
const MaxIDLength = 64

// ID returns the deterministic conversation id for the two participants.
// ID(a, b) == ID(b, a).
func ID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

// CallURL builds the link a participant follows to join the call keyed by id.
func CallURL(baseURL, id string) string {
	return strings.TrimSuffix(baseURL, "/") + "/call/" + url.PathEscape(id)
}

// CallAnnouncement is the chat message posted when a call starts.
func CallAnnouncement(callURL string) string {
	return fmt.Sprintf("I've started a video call. Join me here: %s", callURL)
}
