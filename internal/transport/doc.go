// Package transport defines the pub/sub collaborator the publisher and
// subscriber engines talk to, and provides an in-memory Hub implementing it.
//
// Every callback registered on a Connection or Channel is invoked
// asynchronously, in order, on a dispatcher goroutine owned by the
// connection. Callers must not assume they run on any particular goroutine.
package transport
