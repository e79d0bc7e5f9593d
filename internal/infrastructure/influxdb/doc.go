// Package influxdb records presence history in InfluxDB.
//
// Client implements presence.HistoryRecorder: every classification change
// the tracker makes becomes a point in the "presence" measurement, tagged
// with the device id, the new state and the farm site. History is optional;
// the tracker runs the same with InfluxDB disabled.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("history write failed", "error", err) })
//
//	tracker := presence.NewTracker(dialer, repo, presenceCfg, presence.WithHistory(client))
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval in
// config.yaml). Failed batches are reported to the SetOnError callback, never
// to the tracker, so an InfluxDB outage cannot stall presence tracking.
package influxdb
