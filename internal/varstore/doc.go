// Package varstore provides the publish/subscribe key-value store backing
// all named configuration variables of the broadcast engine.
//
// # Overview
//
// Variables are registered with a name, a type (uint16, uint32, string) and
// optional flags. Every committed write publishes a Modified event on the
// process event bus; the dispatcher loop is the single consumer. Reads are
// plain snapshot lookups and never block.
//
// # Triggers
//
// A variable registered with FlagTrigger notifies on every write, even when
// the written value equals the stored one, and the value itself is not
// retained. Plain variables skip redundant notifications when a write does
// not change the value.
//
// # Print sessions
//
// A variable registered with NotifyPrint answers reads through a print
// session: RequestPrint publishes a PrintRequest event carrying a session id,
// the handler renders its response with Respond, and ClosePrint completes the
// session whether or not anything was written. The requester blocks on the
// session channel until close.
//
// # Seeding and persistence
//
// Values are seeded from an optional YAML defaults file which is watched for
// edits; a changed file value is applied through the ordinary write path, so
// file edits surface as Modified events. When a SQLite path is configured,
// committed values are upserted and survive restarts, overriding the file
// defaults at open. Volatile variables are never persisted.
package varstore
