package bridge

import (
	"net/url"
)

// Notification is a decoded Corrade broker payload: a flat set of string
// key/value pairs. Recognized keys are type, command, success, id, group,
// firstname, lastname and message.
type Notification map[string]string

// ParseNotification decodes a URL-encoded broker payload. Payloads that fail
// to parse yield an empty Notification so that every downstream check fails
// closed and the message is suppressed.
func ParseNotification(payload []byte) Notification {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return Notification{}
	}

	n := make(Notification, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			n[key] = vals[0]
		}
	}
	return n
}

// Has reports whether a key is present in the notification.
func (n Notification) Has(key string) bool {
	_, ok := n[key]
	return ok
}
