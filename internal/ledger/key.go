package ledger

import (
	"fmt"
	"strings"
	"time"
)

// keySeparator does not occur in IATA codes, ISO dates or decimals. The recipient
// may contain it, so keys are split from the right.
const keySeparator = "|"

const keyFields = 5

const dateLayout = "2006-01-02"

// Key identifies one (recipient, route, observed price) combination.
type Key string

// KeyParts is the decoded form of a Key.
type KeyParts struct {
	Recipient   string
	Origin      string
	Destination string
	Date        string
	Price       string
}

// DeriveKey builds the deduplication key. The observed price must be the exact
// representation used for comparison, so a different price yields a different key.
func DeriveKey(recipient, origin, destination, date, observedPrice string) Key {
	return Key(strings.Join([]string{
		strings.ToLower(strings.TrimSpace(recipient)),
		strings.ToUpper(origin),
		strings.ToUpper(destination),
		date,
		observedPrice,
	}, keySeparator))
}

// ParseKey splits a key produced by DeriveKey.
func ParseKey(k Key) (KeyParts, error) {
	fields := strings.Split(string(k), keySeparator)
	if len(fields) < keyFields {
		return KeyParts{}, fmt.Errorf("malformed alert key %q", string(k))
	}
	tail := fields[len(fields)-(keyFields-1):]
	recipient := strings.Join(fields[:len(fields)-(keyFields-1)], keySeparator)
	if recipient == "" {
		return KeyParts{}, fmt.Errorf("malformed alert key %q", string(k))
	}
	return KeyParts{
		Recipient:   recipient,
		Origin:      tail[0],
		Destination: tail[1],
		Date:        tail[2],
		Price:       tail[3],
	}, nil
}

// DepartureDate parses the date field of the key.
func (p KeyParts) DepartureDate() (time.Time, error) {
	return time.Parse(dateLayout, p.Date)
}
