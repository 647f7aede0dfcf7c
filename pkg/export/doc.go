// Package export provides record backup, restore and spreadsheet export.
//
// # Supported Formats
//
// JSON backup:
//   - A metadata header plus the records under "Items"
//   - Can be re-imported, since the importer reads the same envelope
//
// CSV:
//   - One line per record with columns gateway_id, device_id,
//     sequence_number, timestamp, rssi, temperature, humidity, voltages
//   - Samples are joined with ';' in the voltages column
//
// XLSX:
//   - One line per table row (per minute point)
//   - Sequence, gateway and RSSI cells are merged across the rows of one record
//
// # HTTP API
//
// Record query: GET /v1/records?device_id=...&start=<bucket>&end=<bucket>
// returns the stored records as a bare JSON array, or CSV with format=csv.
//
// Backup: GET /v1/export?device_id=...&start=...&end=...&format=json|csv
//
//	curl "http://localhost:8080/v1/export?device_id=node-7&start=2025-11-18T00:00:00Z" \
//	  -o backup.json
//
// Restore: POST /v1/import
//
//	curl -X POST "http://localhost:8080/v1/import" -d @backup.json
//
// Imported records go through the same validation and RSSI overwrite rule
// as live ingest, so restoring a backup twice is harmless. Invalid records
// are skipped and listed in ImportResult.Errors.
//
// # Usage Limits
//
//   - Maximum export time range: 30 days
//   - Default export window: 24 hours
//   - Maximum import body: 64 MiB
package export
