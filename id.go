package notevault

import "github.com/xraph/notevault/id"

// ID is the identifier type for vaults, accounts and events.
type ID = id.ID

// AccountID identifies a caller or withdrawal recipient.
type AccountID = id.AccountID

// NewAccountID generates a fresh account identity.
var NewAccountID = id.NewAccountID
