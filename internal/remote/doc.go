// Package remote provides the client for the Git-hosting service REST API.
//
// The Client interface exposes the repository operations the
// synchronization engine needs (get/create/delete/list, visibility
// updates, user provisioning). Error classification happens exactly once,
// inside this package: every failure is an *APIError carrying a Kind
// (NotFound, Conflict, Connectivity, Remote) that callers check with the
// Is* helpers, never by inspecting message text.
package remote
