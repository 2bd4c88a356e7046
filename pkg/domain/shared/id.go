package shared

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies organizations, users, memberships and events.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses an ID.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid id %q", ErrValidation, s)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString parses an ID and panics on failure. Test and seed code only.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IDsFromStrings parses a list of IDs, failing on the first malformed entry.
func IDsFromStrings(values []string) ([]ID, error) {
	ids := make([]ID, 0, len(values))
	for _, v := range values {
		id, err := IDFromString(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Strings renders a list of IDs, e.g. for pq.Array parameters.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// String returns the canonical string form.
func (id ID) String() string {
	return id.value.String()
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Equals compares two IDs.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	var (
		parsed uuid.UUID
		err    error
	)
	switch v := src.(type) {
	case string:
		parsed, err = uuid.Parse(v)
	case []byte:
		parsed, err = uuid.ParseBytes(v)
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
	if err != nil {
		return err
	}
	id.value = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	id.value = parsed
	return nil
}
