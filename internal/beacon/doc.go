// Package beacon announces the farm monitor host on the local network.
//
// Field devices boot without knowing where the broker runs. They listen for
// a one-byte UDP datagram ("!") on the beacon port (default 5554) and take
// the sender's address as the broker host. The beacon pings every
// fast_interval for the first fast_count pings, which covers commissioning,
// then drops to slow_interval.
//
//	b, err := beacon.New(cfg.Beacon, logger)
//	if err != nil {
//	    return err
//	}
//	go b.Run(ctx)
package beacon
