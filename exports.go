package notevault

import (
	"github.com/xraph/notevault/custody"
	"github.com/xraph/notevault/types"
)

// Re-export common types for convenience so users don't have to import the
// types and custody packages for everyday calls.

// Amount is re-exported from types package.
type Amount = types.Amount

// Bucket is re-exported from custody package.
type Bucket = custody.Bucket

// Re-export constructors
var (
	FromInt     = types.FromInt
	ParseAmount = types.Parse
	MustParse   = types.MustParse
	Zero        = types.Zero
	NewBucket   = custody.NewBucket
)
