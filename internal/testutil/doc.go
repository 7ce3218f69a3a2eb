// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing wire streams, conversation
// histories and downstream recorders. They are not intended for production
// usage.
package testutil
