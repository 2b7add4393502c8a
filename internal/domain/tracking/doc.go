/*
Package tracking queries the 17track API for shipment status.

Every request carries the signature held by a credential source (normally
credential.Cache), the device id it was issued under and a Last-Event-ID
value derived from the request body. The Client:

  - resolves the carrier, by shape heuristics when the caller asks for auto
  - polls while the upstream is still fetching the carrier's data
  - switches to the carrier the upstream suggests when auto-detection fails
  - invalidates the credential and retries once when the upstream rejects it

TrackBatch runs one dispatch per number with bounded concurrency and returns
one BatchResult per input, in order.
*/
package tracking
