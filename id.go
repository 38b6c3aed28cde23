package fitsync

import "github.com/saicgr/AIFitnessCoach-sub010/id"

// ID is the primary identifier type for all fitsync entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
