// Package mysql persists tasks and users in MySQL. Timestamps are stored as
// millisecond BIGINT columns so that the statistics queries can do the hour
// arithmetic in SQL. The schema is applied from the embedded migrations in
// deploy/migrations on startup.
package mysql
