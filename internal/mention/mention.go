// Package mention derives the addressable-participant projection from
// the message collection. It is a pure function of its inputs and is
// recomputed on every collection change; there is no state here.
package mention

import "ephemeral_chat/internal/domain"

// Handles returns the live set of addressable handles: every distinct
// author handle, host display name, and previously mentioned handle
// seen so far, plus the local handle. First-seen order, no duplicates.
// The system author is not addressable.
func Handles(messages []domain.Message, localHandle string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(h string) {
		if h == "" || h == domain.SystemAuthor {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	for _, m := range messages {
		add(m.UserID)
		add(m.HostName)
		for _, h := range m.Mentions {
			add(h)
		}
	}
	add(localHandle)
	return out
}

// AddressedTo reports whether the message mentions the given handle.
func AddressedTo(m domain.Message, handle string) bool {
	if handle == "" {
		return false
	}
	for _, h := range m.Mentions {
		if h == handle {
			return true
		}
	}
	return false
}
