// Package redisstore implements todo.Store on Redis.
//
// Layout, relative to the configured key prefix:
//
//	item:<id>      JSON encoded todo.Todo
//	user:<userId>  sorted set of todo ids scored by creation time (ns)
//
// Listing reads the user's sorted set in score order, which is creation
// order, then fetches the items with a single MGET.
package redisstore
