/*
Package storage provides the pluggable record store used by ingest, the
dashboard and retention.

# Storage Interface

Two backends implement Storage:
  - memory: in-memory maps for tests and throwaway runs
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

Records are keyed by (device id, bucket index). A bucket holds at most one
record per device.

# Overwrite Rule

Gateways in range of the same device forward the same record. The first copy
is stored (PutStored). A later copy replaces it only if its RSSI is strictly
stronger (PutUpdated), otherwise it is dropped (PutSkipped). A copy without
RSSI never replaces anything. The rule lives in ShouldReplace so both
backends agree.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	res, err := store.Put(ctx, rec)
	fmt.Println(res) // first_stored

	records, err := store.Query(ctx, "device-abc", telemetry.QueryRange(start, end))

# Retention

DeleteBefore removes records of every device below a bucket index. The
server runs it hourly with the bucket of now minus the retention period.
*/
package storage
