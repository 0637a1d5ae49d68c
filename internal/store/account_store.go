package store

import "github.com/WGwuzhi/midjourney-proxy/internal/account"

// AccountStore persists upstream accounts. The registry is hydrated from it
// at startup and after admin mutations.
type AccountStore interface {
	GetAccount(channelID string) (*account.Account, error)
	SaveAccount(a *account.Account) error
	DeleteAccount(channelID string) error
	ListAccounts() ([]*account.Account, error)
}
