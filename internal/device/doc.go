// Package device provides the device store for the presence tracker.
//
// The store is the authoritative list of provisioned grain-storage devices.
// A device that heartbeats but has no row here is "new"; a device with a row
// is provisioned and its connected flag mirrors whether the tracker currently
// sees it.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                       Device Store                        │
//	│                                                           │
//	│  ┌──────────────────┐           ┌──────────────────┐      │
//	│  │    Repository    │           │    Validation    │      │
//	│  │  (repository.go) │           │ (validation.go)  │      │
//	│  │                  │           │                  │      │
//	│  │ • Identity lookup│           │ • Field lengths  │      │
//	│  │ • Connected flag │           │ • Required ids   │      │
//	│  │ • Provisioning   │           │                  │      │
//	│  └──────────────────┘           └──────────────────┘      │
//	│           │                                               │
//	└───────────│───────────────────────────────────────────────┘
//	            ▼
//	┌──────────────────────┐
//	│   SQLite Database    │
//	│   (devices table)    │
//	└──────────────────────┘
//
// # Key Types
//
//   - Device: a provisioned device row
//   - Repository: persistence operations used by the tracker and CLI
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//
//	dev, err := repo.GetByDeviceID(ctx, "grain-01")
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // not provisioned
//	}
//
//	// Mark provisioned device present
//	if err := repo.SetConnected(ctx, "grain-01", true); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use. Each SetConnected call is its
// own committed transaction.
package device
