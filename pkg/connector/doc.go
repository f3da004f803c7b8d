// Package connector holds the podio connectors and the framework they are
// built on.
//
//   - core: the Source and Destination interfaces, records, change sets and
//     apply results.
//
//   - base: BaseConnector, embedded by every connector. It carries the
//     logger, retry policy, error handler, progress reporter and metrics
//     collector.
//
//   - sources/podio: podio-items, podio-members and podio-contacts sources.
//
//   - destinations/podio: the matching destinations, applying change sets
//     as creates, updates and deletes.
//
//   - registry: connector factories. Connectors register themselves in init.
//
//   - shared/podioconn: the connection shared by sources and destinations:
//     API client, token manager and registry.
//
// Sources stream records on a channel and report a terminal error on a
// second channel. Only one read runs at a time per source. Destinations never
// retry a write; metadata reads are retried on connection errors and
// timeouts.
package connector
