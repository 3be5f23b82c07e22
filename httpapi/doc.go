// Package httpapi serves the rotation engine over HTTP: versioned JSON
// routes under /api/v1, a uniform response envelope, CORS for browser
// clients, and zap request logging.
//
// Every response carries the same envelope:
//
//	{"success": bool, "message": ..., "data": ..., "error": ..., "code": ...}
//
// The code field is the machine-readable error kind; clients branch on it
// (or on the status code) rather than parsing error text.
package httpapi
