// Package api exposes the TaskPulse REST interface: account registration and
// login, owner-scoped task CRUD, the dashboard statistics endpoint, plus
// health and Prometheus metrics endpoints.
package api
