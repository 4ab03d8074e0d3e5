package domain

import "time"

// DeploymentStatus is the lifecycle state of a deployment. Deployments are
// never deleted; they only transition between statuses.
type DeploymentStatus string

const (
	DeploymentActive    DeploymentStatus = "ACTIVE"
	DeploymentPaused    DeploymentStatus = "PAUSED"
	DeploymentCancelled DeploymentStatus = "CANCELLED"
)

// Deployment binds one user wallet to one trading strategy on one venue
// family. The wallet is a smart-contract account; all state-mutating calls go
// through the execution module installed on it.
type Deployment struct {
	ID            string
	AgentID       string // owning strategy
	Venue         Venue
	Wallet        string // user smart-contract wallet address
	ModuleAddress string // execution module installed on the wallet
	ChainID       int64
	// ProfitReceiver collects the strategy owner's share of realized profit.
	ProfitReceiver string
	Status         DeploymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
