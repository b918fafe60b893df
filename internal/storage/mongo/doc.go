// Package mongo persists tasks and users in MongoDB. Task statistics are
// computed server-side with aggregation pipelines; malformed ObjectIDs are
// reported as missing records.
package mongo
