// Package storage manages the database and cache connections shared by the
// rest of the service.
//
// Writes always go to the Postgres primary. Read-heavy paths (analytics,
// usage history) can take a round-robin read replica via Replica(); when no
// replicas are configured everything falls back to the primary. Redis is
// optional and only backs the balance cache, so a missing Redis deployment
// degrades cache sharing rather than breaking the service.
package storage
