package runqueue

import "github.com/xraph/runqueue/id"

// ID is the primary identifier type for all runqueue entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
