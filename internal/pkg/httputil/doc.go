// Package httputil provides shared HTTP response/request helpers for the API
// and tracking handlers, so every endpoint answers with the same JSON
// envelope and error shape.
package httputil
