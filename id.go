package conductor

import "github.com/xraph/conductor/id"

// ID is the identifier type for all conductor records.
type ID = id.ID

// Prefix identifies the record kind encoded in an ID.
type Prefix = id.Prefix
