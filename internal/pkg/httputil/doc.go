// Package httputil provides shared HTTP response/request helpers.
//
// Handlers use these instead of raw http.ResponseWriter calls so every
// endpoint emits the same JSON envelope and error shape.
package httputil
